// Command oci pulls and pushes OCI artifacts against container registries.
//
// Usage:
//
//	oci pull <image> [flags]
//	oci push <image> <layer-file>... [flags]
//	oci digest <image> [flags]
//
// Credentials are read from the --username/--password flags, the
// OCI_USERNAME and OCI_PASSWORD environment variables, or a .env file in
// the working directory. Anonymous access is used when none are set.
//
// Environment Variables:
//
//	OCI_USERNAME            - Registry username
//	OCI_PASSWORD            - Registry password or token
//	OCI_PROTOCOL            - "https" or "http"
//	OCI_INSECURE_REGISTRIES - Comma-separated hosts contacted over HTTP
//	OCI_TIMEOUT             - Request timeout (e.g. "60s")
//
// Example:
//
//	# Pull a wasm module
//	oci pull webassembly.azurecr.io/hello-wasm:v1 -o ./out
//
//	# Push a module to a local registry
//	oci push localhost:5000/hello-wasm:v1 module.wasm --insecure-registry localhost:5000
//
//	# Resolve a tag to its manifest digest
//	oci digest webassembly.azurecr.io/hello-wasm:v1
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	oci "github.com/git-pkgs/oci"
)

var (
	flagConfig             string
	flagUsername           string
	flagPassword           string
	flagPlainHTTP          bool
	flagInsecureRegistries []string
	flagLogLevel           string
	flagLogFormat          string
)

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "oci",
		Short:         "OCI distribution client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flagLogLevel, flagLogFormat)
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&flagUsername, "username", "", "registry username")
	root.PersistentFlags().StringVar(&flagPassword, "password", "", "registry password or token")
	root.PersistentFlags().BoolVar(&flagPlainHTTP, "plain-http", false, "use HTTP for all registries")
	root.PersistentFlags().StringSliceVar(&flagInsecureRegistries, "insecure-registry", nil, "registry host contacted over HTTP (repeatable)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format: text, json")

	root.AddCommand(pullCommand(), pushCommand(), digestCommand())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// newClient builds a client from the config file (when given), the
// environment, and the command-line flags, in increasing priority.
func newClient() (*oci.Client, error) {
	cfg := oci.DefaultConfig()
	if flagConfig != "" {
		loaded, err := oci.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.LoadFromEnv()

	if flagPlainHTTP {
		cfg.Protocol = "http"
	}
	if len(flagInsecureRegistries) > 0 {
		cfg.InsecureRegistries = flagInsecureRegistries
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return oci.FromSource(cfg), nil
}

// auth resolves credentials from flags, then the environment.
func auth() oci.RegistryAuth {
	username := flagUsername
	if username == "" {
		username = os.Getenv("OCI_USERNAME")
	}
	password := flagPassword
	if password == "" {
		password = os.Getenv("OCI_PASSWORD")
	}
	if username == "" || password == "" {
		return oci.Anonymous
	}
	return oci.BasicAuth(username, password)
}

func pullCommand() *cobra.Command {
	var (
		output      string
		mediaTypes  []string
		printDigest bool
	)

	cmd := &cobra.Command{
		Use:   "pull <image>",
		Short: "Pull an image's layers to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := oci.ParseReference(args[0])
			if err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			img, err := client.Pull(cmd.Context(), ref, auth(), mediaTypes)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(output, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
			for _, layer := range img.Layers {
				name := strings.TrimPrefix(layer.SHA256Digest(), "sha256:")
				path := filepath.Join(output, name)
				if err := os.WriteFile(path, layer.Data, 0o644); err != nil {
					return fmt.Errorf("writing layer: %w", err)
				}
				slog.Info("wrote layer", "path", path, "bytes", len(layer.Data))
			}

			if printDigest {
				fmt.Println(img.Digest())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", ".", "directory to write layers into")
	cmd.Flags().StringSliceVar(&mediaTypes, "accept", []string{
		oci.WasmLayerMediaType,
		"application/vnd.oci.image.layer.v1.tar",
		"application/vnd.oci.image.layer.v1.tar+gzip",
	}, "accepted layer media types")
	cmd.Flags().BoolVar(&printDigest, "digest", false, "print the manifest digest after pulling")
	return cmd
}

func pushCommand() *cobra.Command {
	var (
		configFile      string
		configMediaType string
		layerMediaType  string
	)

	cmd := &cobra.Command{
		Use:   "push <image> <layer-file>...",
		Short: "Push layer files as an image",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := oci.ParseReference(args[0])
			if err != nil {
				return err
			}

			img := &oci.ImageData{}
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading layer file: %w", err)
				}
				img.Layers = append(img.Layers, oci.NewImageLayer(data, layerMediaType))
			}

			configData := []byte("{}")
			if configFile != "" {
				configData, err = os.ReadFile(configFile)
				if err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			url, err := client.Push(cmd.Context(), ref, img, configData, configMediaType, auth(), nil)
			if err != nil {
				return err
			}

			slog.Info("pushed image", "image", ref.String())
			fmt.Println(url)
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config-file", "", "config blob to push (defaults to an empty JSON object)")
	cmd.Flags().StringVar(&configMediaType, "config-media-type", oci.WasmConfigMediaType, "media type of the config blob")
	cmd.Flags().StringVar(&layerMediaType, "layer-media-type", oci.WasmLayerMediaType, "media type applied to every layer file")
	return cmd
}

func digestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <image>",
		Short: "Resolve an image reference to its manifest digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := oci.ParseReference(args[0])
			if err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			dig, err := client.FetchManifestDigest(cmd.Context(), ref, auth())
			if err != nil {
				return err
			}
			fmt.Println(dig)
			return nil
		},
	}
}
