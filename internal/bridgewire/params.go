package bridgewire

import (
	"encoding/json"
	"fmt"
)

// Method names understood by the remote planning service. They match the
// tool names exposed to the host.
const (
	MethodChat           = "chat"
	MethodAnalyzeFile    = "analyzeFile"
	MethodAnalyzeProject = "analyzeProject"
	MethodCreateTask     = "createTask"
	MethodQueryTasks     = "queryTasks"
)

// AnalysisType selects what analyzeFile looks for.
type AnalysisType string

const (
	AnalysisFull        AnalysisType = "full"
	AnalysisSecurity    AnalysisType = "security"
	AnalysisPerformance AnalysisType = "performance"
	AnalysisQuality     AnalysisType = "quality"
	AnalysisDocs        AnalysisType = "documentation"
)

// AnalysisDepth selects how far analyzeProject walks.
type AnalysisDepth string

const (
	DepthShallow AnalysisDepth = "shallow"
	DepthMedium  AnalysisDepth = "medium"
	DepthDeep    AnalysisDepth = "deep"
)

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// TaskStatus filters queryTasks.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
)

// ChatContext is optional editor context attached to a chat message.
type ChatContext struct {
	CurrentFile  string   `json:"currentFile,omitempty"`
	SelectedText string   `json:"selectedText,omitempty"`
	ProjectPath  string   `json:"projectPath,omitempty"`
	OpenFiles    []string `json:"openFiles,omitempty"`
}

// ChatParams are the parameters of the chat method.
type ChatParams struct {
	Message   string       `json:"message"`
	Context   *ChatContext `json:"context,omitempty"`
	Streaming bool         `json:"streaming,omitempty"`
	MaxTokens int          `json:"maxTokens,omitempty"`
	Stream    bool         `json:"stream,omitempty"`
}

// AnalyzeFileParams are the parameters of the analyzeFile method.
type AnalyzeFileParams struct {
	FilePath         string         `json:"filePath"`
	Content          string         `json:"content,omitempty"`
	AnalysisType     AnalysisType   `json:"analysisType,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
}

// AnalyzeProjectParams are the parameters of the analyzeProject method.
type AnalyzeProjectParams struct {
	ProjectPath      string        `json:"projectPath"`
	AnalysisDepth    AnalysisDepth `json:"analysisDepth,omitempty"`
	FocusAreas       []string      `json:"focusAreas,omitempty"`
	ExcludePatterns  []string      `json:"excludePatterns,omitempty"`
	WorkingDirectory string        `json:"workingDirectory,omitempty"`
}

// CreateTaskParams are the parameters of the createTask method.
type CreateTaskParams struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	DueDate     string   `json:"dueDate,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// QueryTasksParams are the parameters of the queryTasks method.
type QueryTasksParams struct {
	Status    TaskStatus `json:"status,omitempty"`
	Assignee  string     `json:"assignee,omitempty"`
	ProjectID string     `json:"projectId,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Bind converts loosely typed arguments (as decoded from JSON) into the
// typed parameter record T.
func Bind[T any](args map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(args)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}

// WithStream returns params re-encoded as an object with "stream": true set,
// so the remote peer emits stream frames before the terminal frame.
func WithStream(params any) (map[string]any, error) {
	out := map[string]any{}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		if string(b) != "null" {
			if err := json.Unmarshal(b, &out); err != nil {
				return nil, fmt.Errorf("stream params must be an object: %w", err)
			}
		}
	}
	out["stream"] = true
	return out, nil
}
