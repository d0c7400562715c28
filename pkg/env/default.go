package env

// NewDefaultProvider returns the provider chain the CLI wires up by
// default: plain OS environment variables, wrapped so a lookup error never
// fails config loading (an unset variable should fall back to its default,
// not abort startup).
func NewDefaultProvider() Provider {
	return NewNoFailProvider(NewEnvVariableProvider())
}
