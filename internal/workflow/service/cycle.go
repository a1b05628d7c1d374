package service

import (
	"fmt"

	"github.com/begmaroman/go-dag"

	"github.com/campaignops/flowengine/internal/workflow/model"
)

type graphVertex struct {
	name string
}

func (v *graphVertex) ID() string {
	return v.name
}

// Hash keys the vertex by its name.
func (v *graphVertex) Hash() (dag.VHash, error) {
	return dag.ToHash(v.name)
}

type graphEdge struct {
	from, to string
}

// checkAcyclic rejects definitions whose resolvable step or stage edges form a cycle.
// Edges to unknown names are ignored since they are never wired.
func checkAcyclic(def *model.ReplaceFlowChainDTO) error {
	var stageNames, stepNames []string
	var stageEdges, stepEdges []graphEdge
	for _, stage := range def.Stages {
		stageNames = append(stageNames, stage.Name)
		for _, t := range stage.Transitions {
			stageEdges = append(stageEdges, graphEdge{from: stage.Name, to: t.ToStageName})
		}
		for _, step := range stage.Steps {
			stepNames = append(stepNames, step.Name)
			for _, t := range step.Transitions {
				stepEdges = append(stepEdges, graphEdge{from: step.Name, to: t.ToStepName})
			}
		}
	}

	if err := addEdgesAcyclic("stage", stageNames, stageEdges); err != nil {
		return err
	}
	return addEdgesAcyclic("step", stepNames, stepEdges)
}

func addEdgesAcyclic(kind string, names []string, edges []graphEdge) error {
	d := dag.NewDAG[*graphVertex]()
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, err := d.AddVertex(&graphVertex{name: name}); err != nil {
			return fmt.Errorf("failed to add %s %q to graph: %w", kind, name, err)
		}
		known[name] = struct{}{}
	}

	seen := make(map[graphEdge]struct{}, len(edges))
	for _, e := range edges {
		if _, ok := known[e.to]; !ok {
			continue
		}
		if e.from == e.to {
			return fmt.Errorf("%s %q transitions to itself", kind, e.from)
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		if err := d.AddEdge(e.from, e.to); err != nil {
			return fmt.Errorf("%s transition %q -> %q closes a cycle: %w", kind, e.from, e.to, err)
		}
	}
	return nil
}
