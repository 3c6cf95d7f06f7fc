package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/gophertribe/devtool/build"
	"github.com/spf13/cobra"
)

// target is a binary produced by the build command.
type target struct {
	name string
	pkg  string
	cgo  bool
}

// fanmon needs cgo for hidapi; the collector is pure Go.
var targets = []target{
	{name: "fanmon", pkg: "./cmd/fanmon", cgo: true},
	{name: "collector", pkg: "./cmd/collector", cgo: false},
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build fanmon binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			goos := cmd.Flag("os").Value.String()
			arch := cmd.Flag("arch").Value.String()
			version := cmd.Flag("version").Value.String()
			crossOs := cmd.Flag("cross-os").Value.String()
			crossArch := cmd.Flag("cross-arch").Value.String()
			only := cmd.Flag("only").Value.String()

			if goos != runtime.GOOS || arch != runtime.GOARCH {
				noCache, err := cmd.Flags().GetBool("no-cache")
				if err != nil {
					return fmt.Errorf("could not get no-cache flag: %w", err)
				}
				return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", goos, arch), []string{"build", "--version", version, "--cross-os", crossOs, "--cross-arch", crossArch, "--only", only}, build.DockerBuildOpts{
					NoCache: noCache,
					Image:   "gophertribe/gobuild:1.25-bookworm",
				})
			}
			if crossOs != "" && crossArch != "" {
				goos, arch = crossOs, crossArch
			}
			for _, t := range targets {
				if only != "" && only != t.name {
					continue
				}
				slog.Info("building", "target", t.name, "os", goos, "arch", arch, "version", version)
				err := build.GoBuild("dist/"+t.name, t.pkg, build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: "main",
					EnableCgo:     t.cgo,
					Arch:          arch,
					OS:            goos,
				})
				if err != nil {
					return fmt.Errorf("could not build %s: %w", t.name, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building the app")
	cmd.Flags().String("version", "latest", "version injected into the binaries")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")
	cmd.Flags().String("only", "", "build a single target (fanmon or collector)")

	return cmd
}
