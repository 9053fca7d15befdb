package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	listURI            = "workflows://list"
	workflowURIPrefix  = "workflows://workflow/"
	resultsURIPrefix   = "workflows://results/"
	jsonMIME           = "application/json"
	workflowIDTemplate = "{workflow_id}"
)

func (h *handlers) registerResources(s *server.MCPServer) {
	s.AddResource(mcp.NewResource(listURI, "Workflows",
		mcp.WithResourceDescription("Get a list of all workflows"),
		mcp.WithMIMEType(jsonMIME),
	), h.listResource)

	s.AddResourceTemplate(mcp.NewResourceTemplate(workflowURIPrefix+workflowIDTemplate, "Workflow summary",
		mcp.WithTemplateDescription("Get summary of a specific workflow"),
		mcp.WithTemplateMIMEType(jsonMIME),
	), h.workflowResource)

	s.AddResourceTemplate(mcp.NewResourceTemplate(resultsURIPrefix+workflowIDTemplate, "Workflow results",
		mcp.WithTemplateDescription("Get results of a completed workflow"),
		mcp.WithTemplateMIMEType(jsonMIME),
	), h.resultsResource)
}

func (h *handlers) listResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	summaries := h.store.ListWorkflows()
	out := make([]workflowListing, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, workflowListing{
			ID:          s.ID,
			Name:        s.Name,
			Completed:   s.Completed,
			TasksCount:  s.TasksCount,
			AgentsCount: s.AgentsCount,
		})
	}
	return jsonContents(req.Params.URI, out)
}

func (h *handlers) workflowResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := workflowIDFrom(req, workflowURIPrefix)
	w, err := h.store.GetWorkflow(id)
	if err != nil {
		return jsonContents(req.Params.URI, notFound(id))
	}
	return jsonContents(req.Params.URI, overviewOf(w))
}

func (h *handlers) resultsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := workflowIDFrom(req, resultsURIPrefix)
	w, err := h.store.GetWorkflow(id)
	if err != nil {
		return jsonContents(req.Params.URI, notFound(id))
	}
	results, err := h.store.WorkflowResults(id)
	if err != nil {
		return jsonContents(req.Params.URI, map[string]string{
			"message": fmt.Sprintf("Workflow '%s' is not completed yet", w.Name),
		})
	}
	return jsonContents(req.Params.URI, results)
}

// workflowIDFrom reads the template variable, falling back to the URI
// suffix.
func workflowIDFrom(req mcp.ReadResourceRequest, prefix string) string {
	switch v := req.Params.Arguments["workflow_id"].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return strings.TrimPrefix(req.Params.URI, prefix)
}

func notFound(id string) map[string]string {
	return map[string]string{"error": fmt.Sprintf("Workflow with ID %s not found", id)}
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	text, err := indent(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: jsonMIME, Text: text},
	}, nil
}
