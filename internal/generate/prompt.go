package generate

import (
	"strings"

	"github.com/allaspectsdev/mlxd/internal/model"
)

// RenderPrompt flattens a chat message list into the single text prompt
// fed to the tokenizer. The actual chat template (special tokens, turn
// markers) belongs to the loaded model's own tokenizer config, which
// ships with the backend; this generic role-tagged rendering is what
// fingerprinting and the fallback encode path use when no richer
// template is wired in.
func RenderPrompt(messages []model.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|")
		b.WriteString(string(m.Role))
		b.WriteString("|>\n")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

// NormalizeRole maps the OpenAI-compatible "developer" role onto
// "system"; every other role passes through unchanged so
// the caller can reject anything not in model.Role's known set.
func NormalizeRole(role string) string {
	if role == "developer" {
		return string(model.RoleSystem)
	}
	return role
}
