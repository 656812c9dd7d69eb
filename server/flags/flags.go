package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"

	Listen     = "listen"
	ServerData = "data"
	Secret     = "secret"

	HeartbeatTimeout  = "heartbeat-timeout"
	HeartbeatInterval = "heartbeat-interval"
	SubmissionTimeout = "submission-timeout"
	AtomRetryBudget   = "atom-retry-budget"
	AtomTimeout       = "atom-timeout"
	ArtifactRetention = "artifact-retention"
)

func init() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")

	flags.String(Listen, ":43777", "listening address")
	flags.String(ServerData, "/var/lib/hive", "data directory for artifacts and workspaces")
	flags.String(Secret, "", "shared secret authenticating cluster requests (min 8 characters)")

	flags.Duration(HeartbeatTimeout, 45*time.Second, "how long a silent worker stays reachable")
	flags.Duration(HeartbeatInterval, 5*time.Second, "how often to sweep for unreachable workers")
	flags.Duration(SubmissionTimeout, 10*time.Minute, "how long a build may wait for fleet capacity")
	flags.Int(AtomRetryBudget, 2, "how many times an atom lost to a worker fault is requeued")
	flags.Duration(AtomTimeout, 0, "time limit for a single atom execution (0 = none)")
	flags.Duration(ArtifactRetention, 7*24*time.Hour, "how long build artifact directories are kept")

	// The test binary injects -test.* arguments that are not ours to parse.
	args := lo.Filter(os.Args[1:], func(arg string, _ int) bool { return !strings.HasPrefix(arg, "-test.") })
	if err := flags.Parse(args); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	viper.SetEnvPrefix("hive")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
