package app

import (
	"os"
	"strings"
)

// clientEnv is the proxy and trust configuration handed to the spawned
// client. It is scoped to the child: the orchestrator's own process
// environment is never mutated, so "reverting" the configuration is
// simply dropping the scope when the run ends.
type clientEnv struct {
	overrides map[string]string
}

func newClientEnv(proxyURL, caCertPath string) *clientEnv {
	return &clientEnv{overrides: map[string]string{
		"HTTP_PROXY":          proxyURL,
		"HTTPS_PROXY":         proxyURL,
		"SSL_CERT_FILE":       caCertPath,
		"NODE_EXTRA_CA_CERTS": caCertPath,
	}}
}

// environ materializes the parent environment with the proxy overrides
// applied, for use as an exec.Cmd Env.
func (e *clientEnv) environ() []string {
	env := make([]string, 0, len(os.Environ())+len(e.overrides))
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if _, shadowed := e.overrides[strings.ToUpper(key)]; shadowed {
			continue
		}
		env = append(env, kv)
	}
	for key, value := range e.overrides {
		env = append(env, key+"="+value)
	}
	return env
}
