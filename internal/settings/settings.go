// Package settings resolves API tokens from the configuration sources a
// research environment typically has lying around.
//
// Precedence, highest first:
//
//  1. tokens passed explicitly to the provider constructor
//  2. the stscraper settings file (TOML)
//  3. provider environment variables (GITHUB_API_TOKENS, GITLAB_API_TOKENS)
//  4. the generic GITHUB_TOKEN variable (GitHub only)
//  5. the hub CLI config file ~/.config/hub (GitHub only)
package settings

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// File is the TOML settings file, relative to the user config dir.
const File = "stscraper/config.toml"

// fileSettings mirrors the settings file shape:
//
//	github_api_tokens = ["ghp_...", "ghp_..."]
//	gitlab_api_tokens = ["glpat-..."]
type fileSettings struct {
	GitHubAPITokens []string `toml:"github_api_tokens"`
	GitLabAPITokens []string `toml:"gitlab_api_tokens"`
}

// Tokens resolves the token list for provider ("github" or "gitlab").
// explicit wins outright when non-empty. An empty result means anonymous
// operation.
func Tokens(provider string, explicit []string) []string {
	if toks := clean(explicit); len(toks) > 0 {
		return toks
	}
	if toks := fromFile(provider); len(toks) > 0 {
		return toks
	}
	if toks := fromEnv(provider); len(toks) > 0 {
		return toks
	}
	if provider == "github" {
		if toks := githubFallbacks(); len(toks) > 0 {
			return toks
		}
	}
	return nil
}

func fromFile(provider string) []string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	var fs fileSettings
	if _, err := toml.DecodeFile(filepath.Join(dir, File), &fs); err != nil {
		return nil
	}
	switch provider {
	case "github":
		return clean(fs.GitHubAPITokens)
	case "gitlab":
		return clean(fs.GitLabAPITokens)
	}
	return nil
}

func fromEnv(provider string) []string {
	var key string
	switch provider {
	case "github":
		key = "GITHUB_API_TOKENS"
	case "gitlab":
		key = "GITLAB_API_TOKENS"
	default:
		return nil
	}
	return clean(strings.Split(os.Getenv(key), ","))
}

// githubFallbacks checks the single-token sources: GITHUB_TOKEN (set by
// CI environments and GitHub Actions) and the hub CLI config.
func githubFallbacks() []string {
	if tok := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); tok != "" {
		return []string{tok}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if tok := hubConfigToken(filepath.Join(home, ".config", "hub")); tok != "" {
			return []string{tok}
		}
	}
	return nil
}

// hubConfigToken extracts the oauth_token value from a hub config file.
// The file is YAML, but the single field we need is greppable without a
// parser:
//
//	github.com:
//	- user: octocat
//	  oauth_token: ghp_...
func hubConfigToken(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if rest, ok := strings.CutPrefix(line, "oauth_token:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func clean(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
