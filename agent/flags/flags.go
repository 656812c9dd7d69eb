package flags

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"

	Listen            = "listen"
	AdvertiseURL      = "advertise-url"
	Master            = "master"
	Secret            = "secret"
	Slots             = "slots"
	Workspace         = "workspace"
	HeartbeatInterval = "heartbeat-interval"
)

func init() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")

	flags.String(Listen, ":43778", "listening address for dispatch requests")
	flags.String(AdvertiseURL, "", "URL under which the master can reach this agent")
	flags.String(Master, "http://127.0.0.1:43777", "master server base URL")
	flags.String(Secret, "", "shared secret authenticating cluster requests (min 8 characters)")
	flags.Int(Slots, runtime.NumCPU(), "number of concurrent executor slots to offer")
	flags.String(Workspace, "/var/lib/hive-agent", "workspace directory for atom executions")
	flags.Duration(HeartbeatInterval, 10*time.Second, "how often to send heartbeats to the master")

	// The test binary injects -test.* arguments that are not ours to parse.
	args := lo.Filter(os.Args[1:], func(arg string, _ int) bool { return !strings.HasPrefix(arg, "-test.") })
	if err := flags.Parse(args); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	viper.SetEnvPrefix("hive_agent")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
