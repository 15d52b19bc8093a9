package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/plan"
	"github.com/planvault/planvault/internal/domain/query"
	"github.com/planvault/planvault/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listPlansTool(),
		s.getPlanTool(),
		s.createPlanTool(),
		s.getEntityTool(),
		s.queryEntitiesTool(),
		s.executeBatchTool(),
	)
}

func (s *Server) listPlansTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_plans",
		mcplib.WithDescription("List all plans stored in PlanVault"),
		mcplib.WithString("tenant",
			mcplib.Description("Tenant to list plans for (defaults to the configured tenant)"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListPlans,
	}
}

func (s *Server) getPlanTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_plan",
		mcplib.WithDescription("Get a plan manifest with entity statistics by plan ID"),
		mcplib.WithString("plan_id",
			mcplib.Required(),
			mcplib.Description("The plan ID to look up"),
		),
		mcplib.WithString("tenant",
			mcplib.Description("Tenant owning the plan"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetPlan,
	}
}

func (s *Server) createPlanTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("create_plan",
		mcplib.WithDescription("Create a new empty plan"),
		mcplib.WithString("name",
			mcplib.Required(),
			mcplib.Description("Human-readable plan name"),
		),
		mcplib.WithString("description",
			mcplib.Description("What the plan covers"),
		),
		mcplib.WithString("created_by",
			mcplib.Description("Author recorded on the manifest"),
		),
		mcplib.WithString("tenant",
			mcplib.Description("Tenant to create the plan under"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleCreatePlan,
	}
}

func (s *Server) getEntityTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_entity",
		mcplib.WithDescription("Get one entity of a plan by kind and ID"),
		mcplib.WithString("plan_id",
			mcplib.Required(),
			mcplib.Description("The plan the entity belongs to"),
		),
		mcplib.WithString("kind",
			mcplib.Required(),
			mcplib.Description("Entity kind: requirement, solution, phase, decision, or artifact"),
		),
		mcplib.WithString("entity_id",
			mcplib.Required(),
			mcplib.Description("The entity ID to look up"),
		),
		mcplib.WithString("tenant",
			mcplib.Description("Tenant owning the plan"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetEntity,
	}
}

func (s *Server) queryEntitiesTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("query_entities",
		mcplib.WithDescription("Query entities of one kind with optional filters, sorting, and paging"),
		mcplib.WithString("plan_id",
			mcplib.Required(),
			mcplib.Description("The plan to query"),
		),
		mcplib.WithString("kind",
			mcplib.Required(),
			mcplib.Description("Entity kind: requirement, solution, phase, decision, or artifact"),
		),
		mcplib.WithArray("filter",
			mcplib.Description(`Filter conditions, each {"field","op","value"}; ops: eq, ne, prefix, suffix, contains, exists, regex, in`),
		),
		mcplib.WithString("sort_by",
			mcplib.Description("Field to sort by"),
		),
		mcplib.WithBoolean("descending",
			mcplib.Description("Sort in descending order"),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of results"),
		),
		mcplib.WithNumber("offset",
			mcplib.Description("Number of results to skip"),
		),
		mcplib.WithString("tenant",
			mcplib.Description("Tenant owning the plan"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleQueryEntities,
	}
}

func (s *Server) executeBatchTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("execute_batch",
		mcplib.WithDescription("Execute an all-or-nothing batch of create/update/create_link operations against one plan. "+
			"Operations may reference entities created earlier in the same batch through temp IDs."),
		mcplib.WithString("plan_id",
			mcplib.Required(),
			mcplib.Description("The plan to mutate"),
		),
		mcplib.WithArray("operations",
			mcplib.Required(),
			mcplib.Description(`Operations, each {"action","kind","tempId","id","payload"}; actions: create, update, create_link`),
		),
		mcplib.WithString("tenant",
			mcplib.Description("Tenant owning the plan"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleExecuteBatch,
	}
}

func (s *Server) handleListPlans(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	factory, _, err := s.factoryFor(ctx, req.GetArguments())
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to resolve tenant", err), nil
	}
	plans, err := factory.PlanRepo().ListPlans(ctx)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list plans", err), nil
	}
	data, err := json.Marshal(plans)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal plans", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetPlan(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	planID, ok := args["plan_id"].(string)
	if !ok || planID == "" {
		return mcplib.NewToolResultError("plan_id is required"), nil
	}
	factory, _, err := s.factoryFor(ctx, args)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to resolve tenant", err), nil
	}
	m, err := factory.PlanRepo().LoadManifest(ctx, planID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get plan %s", planID), err,
		), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal plan", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleCreatePlan(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcplib.NewToolResultError("name is required"), nil
	}
	factory, _, err := s.factoryFor(ctx, args)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to resolve tenant", err), nil
	}

	m := &plan.Manifest{Name: name}
	if desc, ok := args["description"].(string); ok {
		m.Description = desc
	}
	if by, ok := args["created_by"].(string); ok {
		m.CreatedBy = by
	}
	created, err := factory.PlanRepo().CreatePlan(ctx, m)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to create plan", err), nil
	}
	data, err := json.Marshal(created)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal plan", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleGetEntity(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	planID, _ := args["plan_id"].(string)
	kindArg, _ := args["kind"].(string)
	entityID, _ := args["entity_id"].(string)
	if planID == "" || kindArg == "" || entityID == "" {
		return mcplib.NewToolResultError("plan_id, kind, and entity_id are required"), nil
	}
	kind := entity.Kind(kindArg)
	if !kind.Valid() {
		return mcplib.NewToolResultError(fmt.Sprintf("unknown entity kind %q", kindArg)), nil
	}
	factory, _, err := s.factoryFor(ctx, args)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to resolve tenant", err), nil
	}
	ent, err := factory.EntityRepo(kind, planID).FindByID(ctx, entityID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get %s %s", kindArg, entityID), err,
		), nil
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal entity", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleQueryEntities(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	planID, _ := args["plan_id"].(string)
	kindArg, _ := args["kind"].(string)
	if planID == "" || kindArg == "" {
		return mcplib.NewToolResultError("plan_id and kind are required"), nil
	}
	kind := entity.Kind(kindArg)
	if !kind.Valid() {
		return mcplib.NewToolResultError(fmt.Sprintf("unknown entity kind %q", kindArg)), nil
	}

	q, err := queryFromArgs(args)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid query", err), nil
	}

	factory, _, err := s.factoryFor(ctx, args)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to resolve tenant", err), nil
	}
	page, err := factory.EntityRepo(kind, planID).Query(ctx, q)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("query failed", err), nil
	}
	data, err := json.Marshal(page)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal results", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleExecuteBatch(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	planID, _ := args["plan_id"].(string)
	if planID == "" {
		return mcplib.NewToolResultError("plan_id is required"), nil
	}
	rawOps, ok := args["operations"]
	if !ok {
		return mcplib.NewToolResultError("operations is required"), nil
	}
	ops, err := decodeOps(rawOps)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid operations", err), nil
	}

	factory, tenant, err := s.factoryFor(ctx, args)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to resolve tenant", err), nil
	}

	engine := service.NewBatchEngine(factory, tenant, s.deps.Log, s.deps.Metrics)
	result, err := engine.Execute(ctx, planID, ops)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("batch failed", err), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

// queryFromArgs builds a query from tool arguments: filter conditions,
// single sort key, limit, and offset.
func queryFromArgs(args map[string]any) (query.Query, error) {
	var q query.Query

	if raw, ok := args["filter"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return q, err
		}
		if err := json.Unmarshal(data, &q.Filter); err != nil {
			return q, fmt.Errorf("filter: %w", err)
		}
	}
	if field, ok := args["sort_by"].(string); ok && field != "" {
		desc, _ := args["descending"].(bool)
		q.Sort = []query.SortKey{{Field: field, Desc: desc}}
	}
	if limit, ok := args["limit"].(float64); ok {
		q.Limit = int(limit)
	}
	if offset, ok := args["offset"].(float64); ok {
		q.Offset = int(offset)
	}
	return q, nil
}

// decodeOps converts the raw JSON operations array into batch operations.
func decodeOps(raw any) ([]service.Op, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var ops []service.Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}
