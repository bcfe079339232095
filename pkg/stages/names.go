package stages

// Stage names of the default pipeline. The terminal marker End never runs.
const (
	Context    = "context_loader"
	Supervisor = "supervisor"
	Sales      = "sales_agent"
	Returns    = "returns_agent"
	HumanGate  = "human_gate"
	Compressor = "compressor"
	End        = "end"
)
