package tools

import (
	"encoding/json"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gaspardpetit/plannerbridge/internal/bridgewire"
)

// Definition declares one tool: its name (also the bridge method), a
// description for the host, and the argument schema.
type Definition struct {
	Name        string
	Description string
	Schema      *openapi3.Schema
	// Workdir marks tools that receive the working directory as ambient
	// context. PathArg, when set, names the argument resolved against it.
	Workdir bool
	PathArg string
	// Streams marks tools that may be served as a token stream.
	Streams bool
	// Mutates marks tools that change planner state.
	Mutates bool
}

// InputSchema renders the argument schema as JSON for tool listings.
func (d Definition) InputSchema() (json.RawMessage, error) {
	return json.Marshal(d.Schema)
}

func stringList(desc string) *openapi3.Schema {
	s := openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
	s.Description = desc
	return s
}

func str(desc string) *openapi3.Schema {
	s := openapi3.NewStringSchema()
	s.Description = desc
	return s
}

func enum[T ~string](desc string, def T, values ...T) *openapi3.Schema {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = string(v)
	}
	s := openapi3.NewStringSchema().WithEnum(vs...)
	if def != "" {
		s = s.WithDefault(string(def))
	}
	s.Description = desc
	return s
}

// Catalog returns the fixed set of tools, in listing order.
func Catalog() []Definition {
	chatContext := openapi3.NewObjectSchema().
		WithProperty("currentFile", str("Path of the file open in the editor.")).
		WithProperty("selectedText", str("Text currently selected in the editor.")).
		WithProperty("projectPath", str("Root of the project the user is working in.")).
		WithProperty("openFiles", stringList("Other files open in the editor."))
	chatContext.Description = "Editor context for the message."

	streaming := openapi3.NewBoolSchema()
	streaming.Description = "Stream the reply token by token."

	limit := openapi3.NewIntegerSchema().WithMin(1).WithMax(1000)
	limit.Description = "Maximum number of tasks to return."

	fileContext := openapi3.NewObjectSchema()
	fileContext.Description = "Free-form context forwarded with the analysis."

	return []Definition{
		{
			Name:        bridgewire.MethodChat,
			Description: "Chat with the planning agent about the current work.",
			Schema: openapi3.NewObjectSchema().
				WithProperty("message", str("Message to send.").WithMinLength(1)).
				WithProperty("context", chatContext).
				WithProperty("streaming", streaming).
				WithRequired([]string{"message"}),
			Streams: true,
		},
		{
			Name:        bridgewire.MethodAnalyzeFile,
			Description: "Analyze a single file for issues and improvements.",
			Schema: openapi3.NewObjectSchema().
				WithProperty("filePath", str("Path of the file, relative to the working directory or absolute.").WithMinLength(1)).
				WithProperty("content", str("File content; read remotely when omitted.")).
				WithProperty("analysisType", enum("Kind of analysis.", bridgewire.AnalysisFull,
					bridgewire.AnalysisFull, bridgewire.AnalysisSecurity, bridgewire.AnalysisPerformance,
					bridgewire.AnalysisQuality, bridgewire.AnalysisDocs)).
				WithProperty("context", fileContext).
				WithRequired([]string{"filePath"}),
			Workdir: true,
			PathArg: "filePath",
		},
		{
			Name:        bridgewire.MethodAnalyzeProject,
			Description: "Analyze the structure and health of a project.",
			Schema: openapi3.NewObjectSchema().
				WithProperty("projectPath", str("Project root, relative to the working directory or absolute.").WithMinLength(1)).
				WithProperty("analysisDepth", enum("How deep to analyze.", bridgewire.DepthMedium,
					bridgewire.DepthShallow, bridgewire.DepthMedium, bridgewire.DepthDeep)).
				WithProperty("focusAreas", stringList("Areas to concentrate on.")).
				WithProperty("excludePatterns", stringList("Glob patterns to skip.")).
				WithRequired([]string{"projectPath"}),
			Workdir: true,
			PathArg: "projectPath",
		},
		{
			Name:        bridgewire.MethodCreateTask,
			Description: "Create a task in the planner.",
			Schema: openapi3.NewObjectSchema().
				WithProperty("title", str("Task title.").WithMinLength(1)).
				WithProperty("description", str("Task description.")).
				WithProperty("priority", enum("Task priority.", bridgewire.PriorityMedium,
					bridgewire.PriorityLow, bridgewire.PriorityMedium, bridgewire.PriorityHigh, bridgewire.PriorityUrgent)).
				WithProperty("assignee", str("Who the task is assigned to.")).
				WithProperty("dueDate", str("Due date, ISO 8601.")).
				WithProperty("tags", stringList("Labels for the task.")).
				WithRequired([]string{"title", "description"}),
			Mutates: true,
		},
		{
			Name:        bridgewire.MethodQueryTasks,
			Description: "List planner tasks matching the given filters.",
			Schema: openapi3.NewObjectSchema().
				WithProperty("status", enum[bridgewire.TaskStatus]("Only tasks in this status.", "",
					bridgewire.StatusTodo, bridgewire.StatusInProgress, bridgewire.StatusReview, bridgewire.StatusDone)).
				WithProperty("assignee", str("Only tasks assigned to this person.")).
				WithProperty("projectId", str("Only tasks of this project.")).
				WithProperty("tags", stringList("Only tasks carrying all these tags.")).
				WithProperty("limit", limit),
		},
	}
}
