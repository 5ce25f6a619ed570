package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/mlxd/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "run":
		cmdRun(os.Args[2:])
	case "setup":
		cmdSetup(os.Args[2:])
	case "auth":
		cmdAuth(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "install-service":
		cmdInstallService()
	case "uninstall-service":
		cmdUninstallService()
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "config-import":
		cmdConfigImport(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: mlxd <command> [options]

Commands:
  start              Start the mlxd server daemon
  stop               Stop the running daemon
  status             Show daemon status and summary stats
  run                Single-shot completion: read a prompt, print the reply
  setup              Interactive setup wizard
  auth               Manage the HTTP bearer token (set|get|delete|generate)
  init-config        Generate default config file
  config-export      Export current config to a TOML file
  config-import      Import config from a TOML file
  install-service    Install as a launchd user agent (macOS)
  uninstall-service  Remove the launchd user agent
  version            Print version information
  help               Show this help message

Options (with 'start'):
  --foreground       Run in foreground, logging to stdout as well as the log file

Options (with 'run'):
  --model <id>          Model id to request (default: config's model.id)
  --system <text>        System prompt
  --prompt <text>        User prompt; if omitted, read from stdin
  --max-tokens <n>
  --temperature <f>
  --top-p <f>
  --top-k <n>
  --min-p <f>
  --stream               Stream tokens to stdout as they are generated
  --raw                  Disable <think> extraction and tool-call parsing
  --tool-call-parser <name>   json|hermes|llama3_json|qwen3_xml|mistral|gemma
  --no-cache             Disable prefix-cache lookup for this request
  -v, --verbose          Verbose logging to stderr`)
}
