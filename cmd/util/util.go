package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dObj/om/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. DOBJ_SOCKET)
	EnvPrefix = "dobj"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and binds environment variables with the DOBJ_ prefix
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupLocalClientFlags adds the flags of the worker side client to a command
func SetupLocalClientFlags(cmd *cobra.Command) {
	key := "socket"
	cmd.PersistentFlags().String(key, "/tmp/dobj.sock", WrapString("Path of the node's local socket"))

	key = "worker"
	cmd.PersistentFlags().String(key, "", WrapString("Name the worker registers with (random id if empty)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 30, WrapString("The timeout in seconds of a single request (0 disables it)"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		SocketPath:    viper.GetString("socket"),
		WorkerName:    viper.GetString("worker"),
		TimeoutSecond: viper.GetInt("timeout"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// ParsePeers parses a comma-separated list of name=host:port pairs
func ParsePeers(value string) (map[string]string, error) {
	peers := make(map[string]string)
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid peer format: %s (expected NAME=HOST:PORT)", entry)
		}
		name := strings.TrimSpace(parts[0])
		if _, ok := peers[name]; ok {
			return nil, fmt.Errorf("duplicate peer %s", name)
		}
		peers[name] = strings.TrimSpace(parts[1])
	}
	return peers, nil
}

// ParseClientID accepts either the 40 character hex form of a client id or a node name
func ParseClientID(value string) common.ClientID {
	if id, err := common.ClientIDFromHex(value); err == nil {
		return id
	}
	return common.ClientIDFromName(value)
}
