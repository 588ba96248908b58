package extract

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// readResponsesStream collects the output text of a server-sent event
// stream. Deltas win; the completed event is only read when no delta came.
func readResponsesStream(body io.Reader, maxBytes int) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBytes+64*1024)

	var output strings.Builder
	var dataLines []string
	processEvent := func(lines []string) error {
		if len(lines) == 0 {
			return nil
		}
		data := strings.TrimSpace(strings.Join(lines, "\n"))
		if data == "" || data == "[DONE]" {
			return nil
		}
		var event responsesStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("unmarshal stream event: %w", err)
		}
		if event.Error != nil {
			return fmt.Errorf("stream error: %s", event.Error.Message)
		}
		if event.Response != nil && event.Response.Error != nil {
			return fmt.Errorf("completion error: %s", event.Response.Error.Message)
		}
		switch event.Type {
		case "response.output_text.delta":
			if output.Len()+len(event.Delta) > maxBytes {
				return fmt.Errorf("output exceeds %d bytes", maxBytes)
			}
			output.WriteString(event.Delta)
		case "response.completed":
			if output.Len() == 0 && event.Response != nil {
				text := completedText(event.Response)
				if len(text) > maxBytes {
					return fmt.Errorf("output exceeds %d bytes", maxBytes)
				}
				output.WriteString(text)
			}
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := processEvent(dataLines); err != nil {
				return "", err
			}
			dataLines = dataLines[:0]
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if err := processEvent(dataLines); err != nil {
		return "", err
	}
	text := strings.TrimSpace(output.String())
	if text == "" {
		return "", fmt.Errorf("empty output stream")
	}
	return text, nil
}

func completedText(resp *responsesEventResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "text" {
				out.WriteString(part.Text)
			}
		}
	}
	return out.String()
}

type responsesRequest struct {
	Model           string                  `json:"model"`
	Instructions    string                  `json:"instructions"`
	Stream          bool                    `json:"stream"`
	Input           []responsesInputMessage `json:"input"`
	MaxOutputTokens int                     `json:"max_output_tokens,omitempty"`
}

type responsesInputMessage struct {
	Role    string                  `json:"role"`
	Content []responsesInputContent `json:"content"`
}

type responsesInputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesStreamEvent struct {
	Type     string                  `json:"type"`
	Delta    string                  `json:"delta,omitempty"`
	Response *responsesEventResponse `json:"response,omitempty"`
	Error    *responsesAPIError      `json:"error,omitempty"`
}

type responsesEventResponse struct {
	Error  *responsesAPIError    `json:"error,omitempty"`
	Output []responsesOutputItem `json:"output,omitempty"`
}

type responsesOutputItem struct {
	Type    string                   `json:"type"`
	Content []responsesOutputContent `json:"content,omitempty"`
}

type responsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesAPIError struct {
	Message string `json:"message"`
}
