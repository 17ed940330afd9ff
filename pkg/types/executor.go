package types

// CommandExecutor runs external programs such as nix-eval-jobs, nix-build and nix-hash.
type CommandExecutor interface {
	// ExecuteCommand runs name with args; env entries are added to the inherited
	// environment. A non-zero exit is reported through err alongside the captured output.
	ExecuteCommand(name string, args []string, env []string) (stdout string, stderr string, err error)
}
