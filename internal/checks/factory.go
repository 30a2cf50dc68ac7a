package checks

import (
	"fmt"

	"github.com/kestrelworks/stagecraft/internal/config"
	"github.com/kestrelworks/stagecraft/internal/exec"
	"github.com/kestrelworks/stagecraft/internal/validation"
)

// Build turns configured checks into providers. The target is the
// directory checks inspect and commands run in.
func Build(configs []config.CheckConfig, runner exec.CommandRunner, target string) ([]validation.CheckProvider, error) {
	providers := make([]validation.CheckProvider, 0, len(configs))

	for _, cc := range configs {
		settings := Settings{
			Name:      cc.Name,
			Required:  cc.Required,
			Retryable: cc.Retryable,
			Threshold: cc.Threshold,
		}
		if settings.Name == "" {
			settings.Name = cc.Kind
		}

		switch cc.Kind {
		case "tests-exist":
			providers = append(providers, NewTestsExist(settings, target))
		case "dependency-resolution":
			providers = append(providers, NewDependencyResolution(settings))
		case "mutation-score":
			if cc.Report == "" {
				return nil, fmt.Errorf("check %s: mutation-score requires a report path", settings.Name)
			}
			providers = append(providers, NewMutationScore(settings, cc.Report))
		case "command":
			if cc.Command == "" {
				return nil, fmt.Errorf("check %s: command checks require a command", settings.Name)
			}
			providers = append(providers, NewCommand(settings, runner, target, cc.Command, cc.Timeout))
		default:
			return nil, fmt.Errorf("check %s: unknown kind %q", settings.Name, cc.Kind)
		}
	}

	return providers, nil
}
