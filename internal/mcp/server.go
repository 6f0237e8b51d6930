package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"taskboard/internal/core"
	"taskboard/internal/monitor"
	"taskboard/internal/store"
	"taskboard/internal/watch"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes board monitoring and watches as MCP tools.
type MCPServer struct {
	store     *store.Store
	scheduler *watch.Scheduler
	monitor   *monitor.Monitor
	logger    *slog.Logger
	location  *time.Location
	server    *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with all tools registered.
func NewMCPServer(store *store.Store, scheduler *watch.Scheduler, mon *monitor.Monitor, logger *slog.Logger, location *time.Location) *MCPServer {
	if mon == nil {
		mon = monitor.New(nil)
	}
	if location == nil {
		location = time.Local
	}
	s := &MCPServer{
		store:     store,
		scheduler: scheduler,
		monitor:   mon,
		logger:    logger,
		location:  location,
	}
	s.server = server.NewMCPServer(
		"taskboard",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	return s
}

// Run serves MCP over stdio until the client disconnects.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// Handler serves MCP over streamable HTTP.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func filterOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("scope",
			mcp.Description("Task window: month (tasks created this month) or all"),
			mcp.Enum("month", "all"),
		),
		mcp.WithString("leader_id", mcp.Description("Only tasks led by this user")),
		mcp.WithString("member_id", mcp.Description("Only tasks with this member")),
		mcp.WithString("project_id", mcp.Description("Only tasks in this project")),
	}
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("board_list_tasks",
		append([]mcp.ToolOption{mcp.WithDescription("List board tasks with their status, priority and deadline")}, filterOptions()...)...,
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("board_alarms",
		append([]mcp.ToolOption{mcp.WithDescription("Evaluate tasks and return the alarm feed (overdue, at risk, stalled)")}, filterOptions()...)...,
	), s.handleAlarms)

	mcpServer.AddTool(mcp.NewTool("board_dashboard",
		append([]mcp.ToolOption{mcp.WithDescription("Summarize velocity, workload per member and the status breakdown")}, filterOptions()...)...,
	), s.handleDashboard)

	mcpServer.AddTool(mcp.NewTool("board_create_watch",
		mcp.WithDescription("Create a watch that evaluates the board on a standard 5-field cron schedule"),
		mcp.WithString("name", mcp.Description("Watch name (optional)")),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("Cron expression, e.g. '0 9 * * 1-5' for weekdays at 09:00"),
		),
		mcp.WithString("scope",
			mcp.Description("Task window, defaults to month"),
			mcp.Enum("month", "all"),
		),
		mcp.WithString("leader_id", mcp.Description("Only tasks led by this user")),
		mcp.WithString("member_id", mcp.Description("Only tasks with this member")),
		mcp.WithString("project_id", mcp.Description("Only tasks in this project")),
		mcp.WithBoolean("notify", mcp.Description("Push overdue alarms to notifiers")),
	), s.handleCreateWatch)

	mcpServer.AddTool(mcp.NewTool("board_list_watches",
		mcp.WithDescription("List watches"),
		mcp.WithString("status",
			mcp.Description("Filter by status: active or paused"),
			mcp.Enum("active", "paused"),
		),
	), s.handleListWatches)

	mcpServer.AddTool(mcp.NewTool("board_run_watch",
		mcp.WithDescription("Run a watch immediately"),
		mcp.WithString("watch_id",
			mcp.Required(),
			mcp.Description("Watch ID"),
		),
	), s.handleRunWatch)

	mcpServer.AddTool(mcp.NewTool("board_list_passes",
		mcp.WithDescription("Show the pass history of a watch, newest first"),
		mcp.WithString("watch_id",
			mcp.Required(),
			mcp.Description("Watch ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of passes to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListPasses)

	mcpServer.AddTool(mcp.NewTool("board_cron_preview",
		mcp.WithDescription("Preview the next fire times of a cron expression"),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("Cron expression"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	s.logger.Info("MCP tools registered", "count", 8)
}

// taskFilter builds a filter from the common scope and id arguments.
func (s *MCPServer) taskFilter(request mcp.CallToolRequest, now time.Time) (core.TaskFilter, error) {
	scope := core.WatchScope(mcp.ParseString(request, "scope", string(core.WatchScopeMonth)))
	w := &core.Watch{Scope: scope}
	switch scope {
	case core.WatchScopeMonth, core.WatchScopeAll:
	default:
		return core.TaskFilter{}, fmt.Errorf("scope must be month or all, got %q", scope)
	}
	w.LeaderID = optionalString(request, "leader_id")
	w.MemberID = optionalString(request, "member_id")
	w.ProjectID = optionalString(request, "project_id")
	return core.FilterForWatch(w, now, s.location), nil
}

func (s *MCPServer) scan(ctx context.Context, request mcp.CallToolRequest) (monitor.Report, []*core.Task, error) {
	now := s.monitor.Now()
	filter, err := s.taskFilter(request, now)
	if err != nil {
		return monitor.Report{}, nil, err
	}
	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return monitor.Report{}, nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return monitor.ScanAt(tasks, now), tasks, nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, tasks, err := s.scan(ctx, request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "[%s] %s (%s)\n", t.Status, t.Title, t.ID)
		fmt.Fprintf(&b, "  Priority: %s\n", t.Priority)
		fmt.Fprintf(&b, "  Deadline: %s\n", formatTime(&t.Deadline, s.location))
		if t.LeaderID != "" {
			fmt.Fprintf(&b, "  Leader: %s\n", t.LeaderID)
		}
		if len(t.Members) > 0 {
			fmt.Fprintf(&b, "  Members: %s\n", strings.Join(t.Members, ", "))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleAlarms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, _, err := s.scan(ctx, request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	feed := report.Feed()
	if len(feed) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No alarms across %d tasks", report.TaskCount)), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d alarms across %d tasks:\n", len(feed), report.TaskCount)
	for _, line := range feed {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleDashboard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, _, err := s.scan(ctx, request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Generated: %s\n", formatTime(&report.GeneratedAt, s.location))
	fmt.Fprintf(&b, "Tasks: %d\n", report.TaskCount)
	fmt.Fprintf(&b, "Velocity: %.1f%%\n", report.Velocity)
	bd := report.Breakdown
	fmt.Fprintf(&b, "Status: todo=%d on_progress=%d stuck=%d verifying=%d done=%d\n",
		bd.Todo, bd.OnProgress, bd.Stuck, bd.Verifying, bd.Done)

	members := make([]string, 0, len(report.Workload))
	for m := range report.Workload {
		members = append(members, m)
	}
	sort.Strings(members)
	if len(members) > 0 {
		b.WriteString("Workload:\n")
		for _, m := range members {
			fmt.Fprintf(&b, "  %s: %d\n", m, report.Workload[m])
		}
	}
	fmt.Fprintf(&b, "Alarms: %d\n", len(report.Alarms))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCreateWatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cronExpr := strings.TrimSpace(mcp.ParseString(request, "cron", ""))
	schedule, err := watch.ParseCron(cronExpr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
	}
	scope := core.WatchScope(mcp.ParseString(request, "scope", string(core.WatchScopeMonth)))
	if scope != core.WatchScopeMonth && scope != core.WatchScopeAll {
		return mcp.NewToolResultError("scope must be month or all"), nil
	}

	w := &core.Watch{
		ID:        core.NewID(),
		Name:      optionalString(request, "name"),
		Cron:      cronExpr,
		Scope:     scope,
		LeaderID:  optionalString(request, "leader_id"),
		MemberID:  optionalString(request, "member_id"),
		ProjectID: optionalString(request, "project_id"),
		Notify:    mcp.ParseBoolean(request, "notify", false),
		Status:    core.WatchStatusActive,
	}
	next := watch.NextOccurrences(schedule, time.Now().In(s.location), 1)[0].UTC()
	w.NextRunAt = &next

	if err := s.store.InsertWatch(ctx, w); err != nil {
		s.logger.Error("insert watch", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create watch: %v", err)), nil
	}
	if err := s.scheduler.AddOrUpdateWatch(ctx, w); err != nil {
		s.logger.Error("schedule watch", "watch_id", w.ID, "err", err)
	}
	s.logger.Info("watch created", "watch_id", w.ID, "cron", cronExpr)

	return mcp.NewToolResultText(fmt.Sprintf("Watch created\nID: %s\nNext run: %s",
		w.ID, formatTime(w.NextRunAt, s.location))), nil
}

func (s *MCPServer) handleListWatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statusFilter *core.WatchStatus
	switch st := core.WatchStatus(mcp.ParseString(request, "status", "")); st {
	case core.WatchStatusActive, core.WatchStatusPaused:
		statusFilter = &st
	}

	watches, err := s.store.ListWatches(ctx, statusFilter)
	if err != nil {
		s.logger.Error("list watches", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list watches: %v", err)), nil
	}
	if len(watches) == 0 {
		return mcp.NewToolResultText("No watches found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d watches:\n\n", len(watches))
	for _, w := range watches {
		fmt.Fprintf(&b, "[%s] %s\n", w.Status, w.ID)
		if w.Name != nil {
			fmt.Fprintf(&b, "  Name: %s\n", *w.Name)
		}
		fmt.Fprintf(&b, "  Cron: %s\n", w.Cron)
		fmt.Fprintf(&b, "  Scope: %s\n", w.Scope)
		if w.NextRunAt != nil {
			fmt.Fprintf(&b, "  Next run: %s\n", formatTime(w.NextRunAt, s.location))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleRunWatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	watchID := mcp.ParseString(request, "watch_id", "")
	w, err := s.store.GetWatch(ctx, watchID)
	if err != nil {
		if errors.Is(err, store.ErrWatchNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("watch not found: %s", watchID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load watch: %v", err)), nil
	}
	pass, err := s.scheduler.RunWatchNow(ctx, w)
	if err != nil {
		if errors.Is(err, watch.ErrPassRunning) {
			return mcp.NewToolResultError("watch is already running"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to run watch: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Pass started\nWatch ID: %s\nPass ID: %s", w.ID, pass.ID)), nil
}

func (s *MCPServer) handleListPasses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	watchID := mcp.ParseString(request, "watch_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	passes, err := s.store.ListPasses(ctx, watchID, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list passes: %v", err)), nil
	}
	if len(passes) == 0 {
		return mcp.NewToolResultText("This watch has no passes yet"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d passes:\n\n", len(passes))
	for _, p := range passes {
		fmt.Fprintf(&b, "[%s] %s\n", p.Status, p.ID)
		if p.StartedAt != nil {
			fmt.Fprintf(&b, "  Started: %s\n", formatTime(p.StartedAt, s.location))
		}
		if p.EndedAt != nil {
			fmt.Fprintf(&b, "  Ended: %s\n", formatTime(p.EndedAt, s.location))
		}
		fmt.Fprintf(&b, "  Tasks: %d, velocity %.1f%%\n", p.TaskCount, p.Velocity)
		for _, line := range p.Alarms {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
		if p.Error != nil {
			fmt.Fprintf(&b, "  Error: %s\n", *p.Error)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCronPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cronExpr := mcp.ParseString(request, "cron", "")
	count := int(mcp.ParseFloat64(request, "count", 5))

	nextTimes, err := watch.Preview(cronExpr, time.Now().In(s.location), count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cron expression: %s\n", cronExpr)
	fmt.Fprintf(&b, "Time zone: %s\n\n", s.location)
	b.WriteString("Next fire times:\n")
	for i, t := range nextTimes {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func optionalString(request mcp.CallToolRequest, key string) *string {
	v := strings.TrimSpace(mcp.ParseString(request, key, ""))
	if v == "" {
		return nil
	}
	return &v
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}
