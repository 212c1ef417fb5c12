package command

import (
	"net"
	"strconv"
	"strings"

	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/config"
)

// Fixed decoder flags.
const (
	FlagFormatJSON = "-format=json"
	FlagUnique     = "-unique=true"
)

// Flags derived from configuration. User-supplied copies are dropped.
var (
	tunerDerivedFlags  = []string{"-d", "-a", "-p"}
	filterDerivedFlags = []string{"-filterid", "-msgtype"}

	// decoderFixedFlags are matched without leading dashes, since rtlamr
	// accepts both -flag and --flag and the last value wins.
	decoderFixedFlags = []string{"format", "unique"}
)

// serverFlag is matched as a substring, so "-server", "--server" and
// "-server=host:port" are all stripped from user parameters.
const serverFlag = "-server"

// IsLocal reports whether the tuner address points at this machine.
// Only localhost and loopback IPs are local; anything else is remote.
func IsLocal(hostport string) bool {
	host, _, err := config.SplitHostPort(hostport)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// TunerArgs builds the rtl_tcp argument list.
//
// It returns ok=false when the tuner is remote and no local process is
// needed. devices is the enumerated dongle list in "bus:device" form; the
// configured device ID selects its index, otherwise index 0 is used.
func TunerArgs(cfg *config.Config, devices []string) (args []string, ok bool) {
	if !IsLocal(cfg.General.RTLTCPHost) {
		return nil, false
	}

	host, port, err := config.SplitHostPort(cfg.General.RTLTCPHost)
	if err != nil {
		return nil, false
	}
	if strings.EqualFold(host, "localhost") {
		// rtl_tcp only accepts a literal address for -a.
		host = "127.0.0.1"
	}

	derived := [][]string{
		{"-a", host},
		{"-p", strconv.Itoa(port)},
		{"-d", strconv.Itoa(DeviceIndex(cfg.General.DeviceID, devices))},
	}

	user := dropFlags(splitGroups(cfg.CustomParameters.RTLTCP), func(name string) bool {
		return contains(tunerDerivedFlags, name)
	})

	return flatten(dedup(append(user, derived...))), true
}

// DeviceIndex returns the position of deviceID in devices, or 0 when the
// ID is "0", empty, or not present.
func DeviceIndex(deviceID string, devices []string) int {
	if deviceID == "" || deviceID == "0" {
		return 0
	}
	for i, d := range devices {
		if d == deviceID {
			return i
		}
	}
	return 0
}

// DecoderArgs builds the rtlamr argument list.
//
// The output format, duplicate suppression and -server flags are always
// present and always derived; user copies of them are dropped. With general.filter_meters the -filterid and
// -msgtype flags are derived from the meter table as well.
func DecoderArgs(cfg *config.Config) []string {
	derived := [][]string{
		{FlagFormatJSON},
		{FlagUnique},
		{serverFlag + "=" + cfg.General.RTLTCPHost},
	}
	if cfg.General.FilterMeters {
		derived = append(derived,
			[]string{"-filterid=" + strings.Join(cfg.MeterIDs(), ",")},
			[]string{"-msgtype=" + strings.Join(protocols(cfg.Meters), ",")},
		)
	}

	user := dropFlags(splitGroups(cfg.CustomParameters.RTLAMR), func(name string) bool {
		if strings.Contains(name, serverFlag) || contains(decoderFixedFlags, strings.TrimLeft(name, "-")) {
			return true
		}
		return cfg.General.FilterMeters && contains(filterDerivedFlags, name)
	})

	return flatten(dedup(append(derived, user...)))
}

// Wrap prefixes an invocation with a line-buffering wrapper such as
// /usr/bin/unbuffer. An empty wrapper returns the invocation unchanged.
func Wrap(wrapper, binary string, args []string) (string, []string) {
	if wrapper == "" {
		return binary, args
	}
	return wrapper, append([]string{binary}, args...)
}

// protocols returns the distinct meter protocols in configuration order.
func protocols(meters []config.MeterConfig) []string {
	var out []string
	for _, m := range meters {
		if m.Protocol != "" && !contains(out, m.Protocol) {
			out = append(out, m.Protocol)
		}
	}
	return out
}

// splitGroups tokenises user parameters into flag groups. A flag without
// "=" takes the following token as its value when that token is not
// itself a flag.
func splitGroups(params string) [][]string {
	tokens := strings.Fields(params)
	var groups [][]string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if isFlag(tok) && !strings.Contains(tok, "=") && i+1 < len(tokens) && !isFlag(tokens[i+1]) {
			groups = append(groups, []string{tok, tokens[i+1]})
			i++
			continue
		}
		groups = append(groups, []string{tok})
	}
	return groups
}

func dropFlags(groups [][]string, drop func(name string) bool) [][]string {
	kept := groups[:0]
	for _, g := range groups {
		if isFlag(g[0]) && drop(flagName(g[0])) {
			continue
		}
		kept = append(kept, g)
	}
	return kept
}

// dedup removes repeated flag groups, keeping the first occurrence.
func dedup(groups [][]string) [][]string {
	seen := make(map[string]bool, len(groups))
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		key := strings.Join(g, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g)
	}
	return out
}

func flatten(groups [][]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func isFlag(tok string) bool {
	return len(tok) > 1 && tok[0] == '-'
}

// flagName strips any "=value" suffix.
func flagName(tok string) string {
	name, _, _ := strings.Cut(tok, "=")
	return name
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
