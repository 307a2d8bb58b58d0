package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avi3tal/graphengine/pkg/graph"
	"github.com/avi3tal/graphengine/pkg/handlers"
	"github.com/avi3tal/graphengine/pkg/registry"
	"github.com/avi3tal/graphengine/pkg/types"
)

// demoHandlers registers the handlers used by the demo graphs.
func demoHandlers() *handlers.Registry {
	return handlers.NewRegistry().
		MustRegister("passthrough", handlers.Passthrough()).
		MustRegister("words", handlers.NewSimpleHandler("words", countWords, nil)).
		MustRegister("chars", handlers.NewSimpleHandler("chars", countChars, nil)).
		MustRegister("summarize", handlers.NewSimpleHandler("summarize", summarize, nil)).
		MustRegister("score", handlers.NewSimpleHandler("score", score, nil)).
		MustRegister("approve", handlers.Approval("publish a low scoring text?", handlers.WithDenyPort(1))).
		MustRegister("publish", handlers.Constant(map[string]any{"published": true})).
		MustRegister("archive", handlers.Constant(map[string]any{"published": false}))
}

// demoGraphs registers:
//
//	stats:  fan out to words and chars, join both into summarize
//	review: score the text; high scores publish, low scores wait for approval
func demoGraphs(reg *registry.Registry) error {
	summarizeNode := graph.NewNode("summarize", "summarize")
	summarizeNode.Cache = &graph.CachePolicy{TTL: time.Minute}

	stats := graph.NewGraph("stats").
		AddNode(graph.NewNode("words", "words"), graph.NewNode("chars", "chars"), summarizeNode).
		AddEdge(
			&graph.Edge{From: "words", To: "summarize", Condition: graph.AllDone()},
			&graph.Edge{From: "chars", To: "summarize", Condition: graph.AllDone()},
		)
	stats.Name = "text statistics"
	stats.Version = "1"

	approve := graph.NewRouter("approve", "approve", 2)
	approve.EnableCheckpointing = true

	review := graph.NewGraph("review").
		AddNode(
			graph.NewNode("score", "score"),
			approve,
			graph.NewNode("publish", "publish"),
			graph.NewNode("archive", "archive"),
			graph.NewNode("done", "passthrough"),
		).
		AddEdge(
			&graph.Edge{From: "score", To: "publish", Condition: graph.WhenExpr("output.score >= 0.5")},
			&graph.Edge{From: "score", To: "approve", Condition: graph.WhenExpr("output.score < 0.5")},
			&graph.Edge{From: "approve", To: "publish"},
			&graph.Edge{From: "approve", To: "archive", FromPort: 1},
		).
		Connect("publish", "done").
		Connect("archive", "done")
	review.Name = "publication review"
	review.Version = "1"

	for _, g := range []*graph.Graph{stats, review} {
		if err := reg.RegisterGraph(g.ID, g); err != nil {
			return fmt.Errorf("failed to register %s: %w", g.ID, err)
		}
	}
	return nil
}

func text(in types.Inputs) string {
	v, _ := in.Get("text")
	s, _ := v.(string)
	return s
}

func countWords(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
	return types.Success(map[string]any{"words": len(strings.Fields(text(in)))})
}

func countChars(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
	return types.Success(map[string]any{"chars": len(text(in))})
}

func summarize(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
	words, _ := in.Get("words")
	chars, _ := in.Get("chars")
	return types.Success(map[string]any{
		"summary": fmt.Sprintf("%v words, %v characters", words, chars),
	})
}

// score rates a text by its share of distinct words.
func score(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
	words := strings.Fields(strings.ToLower(text(in)))
	if len(words) == 0 {
		return types.Success(map[string]any{"score": 0.0})
	}
	distinct := make(map[string]bool, len(words))
	for _, w := range words {
		distinct[w] = true
	}
	return types.Success(map[string]any{"score": float64(len(distinct)) / float64(len(words))})
}
