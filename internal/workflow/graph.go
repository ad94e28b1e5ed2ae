package workflow

import (
	"fmt"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

// DefaultRecursionLimit allows one DDL redesign and a few review rounds.
const DefaultRecursionLimit = 50

// BuildGraph wires the nodes:
//
//	webSearch -> preAssessment -> analyzeRequirements -> designSchema
//	designSchema <-> invokeSchemaDesignTool
//	designSchema -> executeDDL -> generateUsecase -> prepareDML
//	    -> validateSchema -> reviewDeliverables -> finalizeArtifacts
//
// executeDDL loops back to designSchema once on failure and review loops
// back with feedback. Exhausted retries end the run; the executor then
// runs finalizeArtifacts itself.
func BuildGraph(deps Dependencies) (*flowgraph.CompiledGraph[State], error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return buildGraph(newNodes(deps))
}

func buildGraph(n *nodes) (*flowgraph.CompiledGraph[State], error) {
	r := router{maxRetries: n.maxRetries}
	end := flowgraph.END

	g := flowgraph.NewGraph[State]().
		AddNode(NodeWebSearch, n.webSearch).
		AddNode(NodePreAssessment, n.preAssessment).
		AddNode(NodeAnalyzeRequirements, n.analyzeRequirements).
		AddNode(NodeDesignSchema, n.designSchema).
		AddNode(NodeInvokeSchemaDesignTool, n.invokeSchemaDesignTool).
		AddNode(NodeExecuteDDL, n.executeDDL).
		AddNode(NodeGenerateUsecase, n.generateUsecase).
		AddNode(NodePrepareDML, n.prepareDML).
		AddNode(NodeValidateSchema, n.validateSchema).
		AddNode(NodeReviewDeliverables, n.reviewDeliverables).
		AddNode(NodeFinalizeArtifacts, n.finalizeArtifacts).
		SetEntry(NodeWebSearch)

	g.AddEdge(NodeWebSearch, NodePreAssessment)
	g.AddConditionalEdge(NodePreAssessment, r.afterPreAssessment,
		NodePreAssessment, NodeAnalyzeRequirements, NodeFinalizeArtifacts, end)
	g.AddConditionalEdge(NodeAnalyzeRequirements, r.next(NodeAnalyzeRequirements, NodeDesignSchema),
		NodeAnalyzeRequirements, NodeDesignSchema, end)
	g.AddConditionalEdge(NodeDesignSchema, r.afterDesignSchema,
		NodeDesignSchema, NodeInvokeSchemaDesignTool, NodeExecuteDDL, end)
	g.AddConditionalEdge(NodeInvokeSchemaDesignTool, r.next(NodeInvokeSchemaDesignTool, NodeDesignSchema),
		NodeInvokeSchemaDesignTool, NodeDesignSchema, end)
	g.AddConditionalEdge(NodeExecuteDDL, r.afterExecuteDDL,
		NodeDesignSchema, NodeFinalizeArtifacts, NodeGenerateUsecase)
	g.AddConditionalEdge(NodeGenerateUsecase, r.next(NodeGenerateUsecase, NodePrepareDML),
		NodeGenerateUsecase, NodePrepareDML, end)
	g.AddConditionalEdge(NodePrepareDML, r.next(NodePrepareDML, NodeValidateSchema),
		NodePrepareDML, NodeValidateSchema, end)
	g.AddConditionalEdge(NodeValidateSchema, r.next(NodeValidateSchema, NodeReviewDeliverables),
		NodeValidateSchema, NodeReviewDeliverables, end)
	g.AddConditionalEdge(NodeReviewDeliverables, r.afterReview,
		NodeReviewDeliverables, NodeDesignSchema, NodeFinalizeArtifacts, end)
	g.AddEdge(NodeFinalizeArtifacts, end)

	compiled, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile workflow graph: %w", err)
	}
	return compiled, nil
}
