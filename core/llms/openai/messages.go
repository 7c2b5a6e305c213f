package openai

import (
	"fmt"
	"strings"

	"github.com/koscakluka/ema-group/core/inputs"
	"github.com/koscakluka/ema-group/core/llms"
	"github.com/openai/openai-go"
)

func toChatMessages(instructions string, history []llms.Message, input inputs.BatchInput) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if instructions != "" {
		messages = append(messages, openai.SystemMessage(instructions))
	}

	for _, message := range history {
		content := message.Content
		if message.Name != "" && message.Role == llms.MessageRoleUser {
			content = message.Name + ": " + content
		}

		switch message.Role {
		case llms.MessageRoleSystem:
			messages = append(messages, openai.SystemMessage(content))
		case llms.MessageRoleAssistant:
			messages = append(messages, openai.AssistantMessage(content))
		default:
			messages = append(messages, openai.UserMessage(content))
		}
	}

	return append(messages, toUserMessage(input))
}

func toUserMessage(input inputs.BatchInput) openai.ChatCompletionMessageParamUnion {
	prompt := input.Prompt()
	images := input.Images()
	if len(images) == 0 {
		return openai.UserMessage(prompt)
	}

	parts := []openai.ChatCompletionContentPartUnionParam{}
	if prompt != "" {
		parts = append(parts, openai.TextContentPart(prompt))
	}
	for _, image := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: imageURL(image),
		}))
	}
	return openai.UserMessage(parts)
}

func imageURL(image inputs.ImageRef) string {
	if strings.HasPrefix(image.Data, "data:") || strings.HasPrefix(image.Data, "http://") || strings.HasPrefix(image.Data, "https://") {
		return image.Data
	}
	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, image.Data)
}
