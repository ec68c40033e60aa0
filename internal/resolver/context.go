package resolver

import (
	"github.com/spf13/afero"

	"github.com/conneroisu/staticpack/internal/config"
	"github.com/conneroisu/staticpack/internal/graph"
)

// Context pairs the resolvers of the two execution environments. The same
// specifier may resolve differently in each.
type Context struct {
	Client *Resolver
	Server *Resolver
}

// NewContext builds both resolvers from the resolver configuration.
// Builtins are native on the server and empty on the client.
func NewContext(fs afero.Fs, root string, cfg config.ResolverConfig) *Context {
	return &Context{
		Client: New(Options{
			Root:        root,
			Fs:          fs,
			Conditions:  cfg.ClientConditions,
			Extensions:  cfg.Extensions,
			MainFields:  cfg.MainFields,
			BuiltinMode: BuiltinsEmpty,
		}),
		Server: New(Options{
			Root:        root,
			Fs:          fs,
			Conditions:  cfg.ServerConditions,
			Extensions:  cfg.Extensions,
			MainFields:  cfg.MainFields,
			BuiltinMode: BuiltinsNative,
		}),
	}
}

// For selects the resolver for an environment name. "react-server" and
// "server" select the server resolver; anything else the client one.
func (c *Context) For(env string) *Resolver {
	if IsServerEnv(env) {
		return c.Server
	}
	return c.Client
}

// Resolve resolves specifier from a file in env.
func (c *Context) Resolve(specifier, from, env string) (Resolution, error) {
	return c.For(env).Resolve(specifier, from)
}

// Reset clears both resolvers.
func (c *Context) Reset() {
	c.Client.Reset()
	c.Server.Reset()
}

// IsServerEnv reports whether env uses the server condition set.
func IsServerEnv(env string) bool {
	return env == graph.ContextServer || env == "server"
}
