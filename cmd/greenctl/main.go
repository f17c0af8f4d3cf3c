// greenctl runs one-off maintenance commands against the greenledger
// database: catalog seeding, migrations, notification runs, vault key
// rotation and token issuance.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/smallbiznis/greenledger/internal/config"
	"github.com/spf13/pflag"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitInvalidInput = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("greenctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	notifyType := flags.String("type", "all", "notification run: milestones|weekly|monthly|quality|retention|all")
	user := flags.String("user", "", "user id or email for issue_token")
	flags.BoolP("help", "h", false, "show help")
	flags.Usage = func() { printUsage(stderr, flags) }

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitInvalidInput
	}
	if help, _ := flags.GetBool("help"); help {
		printUsage(stdout, flags)
		return exitOK
	}
	if flags.NArg() != 1 {
		printUsage(stderr, flags)
		return exitInvalidInput
	}

	cmd, ok := commands[flags.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "greenctl: unknown command %q\n", flags.Arg(0))
		printUsage(stderr, flags)
		return exitInvalidInput
	}

	opts := options{notifyType: *notifyType, user: *user, stdout: stdout}
	if err := cmd.run(opts); err != nil {
		fmt.Fprintf(stderr, "greenctl %s: %v\n", flags.Arg(0), err)
		if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, errUsage) {
			return exitInvalidInput
		}
		return exitFailure
	}
	return exitOK
}

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: greenctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range commandNames() {
		fmt.Fprintf(w, "  %-28s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	fmt.Fprint(w, flags.FlagUsages())
}
