/*
Package domain contains the core domain models of the Espalier engine.

It defines the fundamental entities of the orchestration pipeline: the
per-conversation State, the StageResult contract between stages and the
executor, EscalationRecords for human review, and Checkpoints for durable
pause/resume. Types here carry no behavior beyond copying and bookkeeping;
persistence, routing and execution live in the packages that consume them.
*/
package domain
