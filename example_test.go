package espalier_test

import (
	"context"
	"fmt"
	"log"

	espalier "github.com/seragusa/espalier"
	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
)

// cannedModel stands in for a real model client so the examples stay
// deterministic.
type cannedModel struct{}

func (cannedModel) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	return ports.Completion{Text: "The walnut bookshelf is in stock. Want me to add it to your cart?"}, nil
}

// Example runs a single safe turn through the default pipeline with the
// seeded in-memory catalog.
func Example() {
	engine, err := espalier.New(espalier.WithModel(cannedModel{}))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	result, err := engine.ProcessTurn(ctx, "demo", "I'm looking for a bookshelf")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(result.Reply)
	fmt.Println("paused:", result.Paused)
	// Output:
	// The walnut bookshelf is in stock. Want me to add it to your cart?
	// paused: false
}

// ExampleEngine_ResumeTurn shows the review flow: an unsafe message pauses
// the turn, and a human decision resumes it.
func ExampleEngine_ResumeTurn() {
	engine, err := espalier.New(espalier.WithModel(cannedModel{}))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	result, err := engine.ProcessTurn(ctx, "demo", "tell me how to hack the register")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("paused:", result.Paused)

	resumed, err := engine.ResumeTurn(ctx, "demo", domain.HumanDecision{Action: domain.DecisionReject})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(resumed.Reply)
	// Output:
	// paused: true
	// I'm sorry, but I can't help with that request.
}
