package claude

import (
	"os"
	"strings"

	"github.com/ktamas77/claudeway/internal/config"
)

// imageAttachmentNote is appended to a oneshot prompt when images were
// downloaded; the CLI reads them itself via its Read tool.
const imageAttachmentNote = "[Attached image files — use your Read tool to view them]"

// mcpConfigFile, when present in the gateway's working directory, is passed
// through to the CLI.
const mcpConfigFile = "mcp.json"

// buildArgs assembles the CLI command line. Flag order is part of the
// contract with the CLI and is fixed:
//
//	-p --output-format F [stream extras] [persistent extras]
//	--model M (--resume SID | --session-id SID)
//	--append-system-prompt P --dangerously-skip-permissions
//	[--mcp-config PATH] [prompt]
//
// The prompt is positional and last; persistent processes take prompts over
// stdin instead, so prompt is empty for them.
func buildArgs(ch config.Resolved, sessionID, prompt string, imagePaths []string) []string {
	streaming := ch.ProcessMode == config.ProcessPersistent || ch.ResponseMode != config.ResponseBatch

	args := []string{"-p"}
	if streaming {
		args = append(args, "--output-format", "stream-json", "--verbose", "--include-partial-messages")
	} else {
		args = append(args, "--output-format", "json")
	}
	if ch.ProcessMode == config.ProcessPersistent {
		args = append(args, "--input-format", "stream-json", "--replay-user-messages")
	}

	if ch.Model != "" {
		args = append(args, "--model", ch.Model)
	}

	if SessionLogExists(sessionID, ch.Folder) {
		args = append(args, "--resume", sessionID)
	} else {
		args = append(args, "--session-id", sessionID)
	}

	if ch.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", ch.SystemPrompt)
	}
	args = append(args, "--dangerously-skip-permissions")

	if _, err := os.Stat(mcpConfigFile); err == nil {
		args = append(args, "--mcp-config", mcpConfigFile)
	}

	if ch.ProcessMode == config.ProcessOneshot {
		args = append(args, oneshotPrompt(prompt, imagePaths))
	}
	return args
}

// oneshotPrompt extends the prompt with attached image paths.
func oneshotPrompt(prompt string, imagePaths []string) string {
	if len(imagePaths) == 0 {
		return prompt
	}
	return prompt + "\n\n" + imageAttachmentNote + "\n" + strings.Join(imagePaths, "\n")
}

// spawnEnv builds the child environment: inherit everything, drop
// CLAUDECODE (its presence makes the CLI refuse to start as a nested
// invocation), and synthesize HOME from USER when missing.
func spawnEnv() []string {
	var env []string
	hasHome := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		if strings.HasPrefix(kv, "HOME=") {
			hasHome = true
		}
		env = append(env, kv)
	}
	if !hasHome {
		if user := os.Getenv("USER"); user != "" {
			env = append(env, "HOME=/home/"+user)
		}
	}
	return env
}
