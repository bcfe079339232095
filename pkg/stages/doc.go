/*
Package stages provides the built-in pipeline: context loading, safety
classification, the sales and returns domain handlers, the human review gate
and the history compressor.

Each constructor returns a registry.Stage. Stages are pure with respect to
the snapshot they receive; everything they want changed travels back through
the StageResult delta.
*/
package stages
