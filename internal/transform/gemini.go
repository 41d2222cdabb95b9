package transform

import (
	"encoding/json"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
)

// Native Gemini generateContent shapes.

type GeminiRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Tools             []GeminiTool            `json:"tools,omitempty"`
	ToolConfig        *GeminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

type GeminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type GeminiFunctionResponse struct {
	Name     string `json:"name"`
	Response any    `json:"response"`
}

type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

type GeminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type GeminiToolConfig struct {
	FunctionCallingConfig GeminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type GeminiFunctionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type GeminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type GeminiResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
}

type GeminiCandidate struct {
	Content      *GeminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index,omitempty"`
}

type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// ToGemini maps a canonical request onto generateContent. The system prompt
// becomes the top-level systemInstruction field; tool schemas are scrubbed
// of JSON-Schema keywords Gemini rejects.
func ToGemini(req *domain.MessagesRequest, model string) (*GeminiRequest, error) {
	out := &GeminiRequest{}

	if req.System != "" {
		out.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: string(req.System)}},
		}
	}

	for _, msg := range req.Messages {
		content, err := geminiContent(msg)
		if err != nil {
			return nil, err
		}
		if len(content.Parts) > 0 {
			out.Contents = append(out.Contents, content)
		}
	}

	var decls []GeminiFunctionDeclaration
	for _, tool := range req.Tools {
		name, desc, schema, err := CanonicalTool(tool)
		if err != nil {
			return nil, err
		}
		decls = append(decls, GeminiFunctionDeclaration{
			Name:        name,
			Description: desc,
			Parameters:  scrubGeminiSchema(schemaOrEmpty(schema)),
		})
	}
	if len(decls) > 0 {
		out.Tools = []GeminiTool{{FunctionDeclarations: decls}}
	}

	if req.ToolChoice != nil {
		cfg, err := geminiToolConfig(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolConfig = cfg
	}

	gen := &GeminiGenerationConfig{
		MaxOutputTokens: clampMaxTokens(req.MaxTokens, 0, "gemini"),
		Temperature:     clampFloat(req.Temperature, 0, 2, "gemini", "temperature"),
		TopP:            clampFloat(req.TopP, 0, 1, "gemini", "top_p"),
		StopSequences:   req.StopSequences,
	}
	out.GenerationConfig = gen

	return out, nil
}

// geminiToolConfig is the fixed mode lookup for the Gemini protocol.
func geminiToolConfig(tc *domain.ToolChoice) (*GeminiToolConfig, error) {
	switch tc.Type {
	case "auto":
		return &GeminiToolConfig{FunctionCallingConfig: GeminiFunctionCallingConfig{Mode: "AUTO"}}, nil
	case "any":
		return &GeminiToolConfig{FunctionCallingConfig: GeminiFunctionCallingConfig{Mode: "ANY"}}, nil
	case "tool":
		return &GeminiToolConfig{FunctionCallingConfig: GeminiFunctionCallingConfig{
			Mode:                 "ANY",
			AllowedFunctionNames: []string{tc.Name},
		}}, nil
	default:
		return nil, &domain.TransformValidationError{Detail: "unsupported tool_choice type " + tc.Type}
	}
}

func geminiContent(msg domain.Message) (GeminiContent, error) {
	role := "user"
	if msg.Role == domain.RoleAssistant {
		role = "model"
	}
	content := GeminiContent{Role: role}

	for _, block := range msg.Content {
		switch block.Type {
		case domain.ContentTypeText:
			if block.Text != "" {
				content.Parts = append(content.Parts, GeminiPart{Text: block.Text})
			}
		case domain.ContentTypeToolUse:
			content.Parts = append(content.Parts, GeminiPart{
				FunctionCall: &GeminiFunctionCall{
					Name: block.Name,
					Args: block.Input,
				},
			})
		case domain.ContentTypeToolResult:
			// functionResponse bodies must be structured objects; plain text
			// results are wrapped.
			content.Parts = append(content.Parts, GeminiPart{
				FunctionResponse: &GeminiFunctionResponse{
					Name:     block.ToolUseID,
					Response: map[string]any{"content": toolResultText(block.Content)},
				},
			})
		default:
			return content, &domain.TransformValidationError{Detail: "unsupported content block type " + block.Type}
		}
	}
	return content, nil
}

// scrubGeminiSchema removes JSON-Schema keywords the Gemini API rejects from
// a tool parameter schema, recursively.
func scrubGeminiSchema(schema json.RawMessage) json.RawMessage {
	var decoded any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return schema
	}
	cleaned := removeFields(decoded, map[string]bool{
		"$schema":              true,
		"additionalProperties": true,
		"exclusiveMaximum":     true,
		"exclusiveMinimum":     true,
	})
	out, err := json.Marshal(cleaned)
	if err != nil {
		return schema
	}
	return out
}

func removeFields(data any, drop map[string]bool) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if drop[k] {
				continue
			}
			out[k] = removeFields(val, drop)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = removeFields(item, drop)
		}
		return out
	default:
		return v
	}
}
