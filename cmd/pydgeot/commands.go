package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	pydgeot "github.com/broiledmeat/pydgeot-go"
	"github.com/broiledmeat/pydgeot-go/internal/devserver"
	"github.com/broiledmeat/pydgeot-go/internal/generator"
)

// formatCLIError renders an error the way the CLI surfaces it: the error
// kind, if it's one of the typed errors from errors.go, plus its message.
func formatCLIError(err error) string {
	switch e := err.(type) {
	case *pydgeot.InvalidAppRootError:
		return fmt.Sprintf("invalid app root: %s", e.Error())
	case *pydgeot.ConfigError:
		return fmt.Sprintf("config error: %s", e.Error())
	case *pydgeot.CommandError:
		return fmt.Sprintf("command error: %s", e.Error())
	case *pydgeot.StoreError:
		return fmt.Sprintf("store error: %s", e.Error())
	default:
		return err.Error()
	}
}

func newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create PATH",
		Short: "Scaffold a new application at PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pydgeot.Create(args[0]); err != nil {
				return err
			}
			pterm.Success.Printf("created application at %s\n", args[0])
			return nil
		},
	}
}

func newBuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Run one incremental build cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := pydgeot.Load(rootDir)
			if err != nil {
				return err
			}
			defer app.Close()

			start := time.Now()
			cs, err := app.Build()
			if err != nil {
				return err
			}
			printChangeSet(cs, time.Since(start))
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [event-delay [changed-timeout]]",
		Short: "Rebuild on every settled filesystem change",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventTimeout := time.Second
			changedTimeout := time.Second
			if len(args) > 0 {
				secs, err := parseSeconds(args[0])
				if err != nil {
					return err
				}
				eventTimeout = secs
			}
			if len(args) > 1 {
				secs, err := parseSeconds(args[1])
				if err != nil {
					return err
				}
				changedTimeout = secs
			}

			app, err := pydgeot.Load(rootDir)
			if err != nil {
				return err
			}
			defer app.Close()

			// Initial full build before watching, so the build tree is
			// current before the dev server starts serving it.
			start := time.Now()
			cs, err := app.Build()
			if err != nil {
				return err
			}
			printChangeSet(cs, time.Since(start))

			srv := devserver.New(app.BuildRoot)
			go func() {
				if err := srv.ListenAndServe(":8080"); err != nil {
					pterm.Error.Printf("dev server: %v\n", err)
				}
			}()
			pterm.Info.Println("serving build output on http://localhost:8080")

			stop, err := app.Watch(eventTimeout, changedTimeout, func(cs generator.ChangeSet, err error) {
				if err != nil {
					pterm.Error.Printf("build error: %v\n", err)
					return
				}
				printChangeSet(cs, 0)
			})
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			pterm.Info.Println("watching for changes, press ctrl-c to stop")
			<-sigCh

			stop()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Wipe the build tree and catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := pydgeot.Load(rootDir)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Reset(); err != nil {
				return err
			}
			pterm.Success.Println("reset complete")
			return nil
		},
	}
}

func newCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean PATH [PATH...]",
		Short: "Forget tracked sources under the given directories so they rebuild fresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := pydgeot.Load(rootDir)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Clean(args); err != nil {
				return err
			}
			pterm.Success.Printf("cleaned %d path(s)\n", len(args))
			return nil
		},
	}
}

func newCommandsCommand(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List available commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var names []string
			for _, c := range root.Commands() {
				names = append(names, c.Name())
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newProcessorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "processors",
		Short: "List registered processors, highest priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := pydgeot.Load(rootDir)
			if err != nil {
				return err
			}
			defer app.Close()
			for _, name := range app.ProcessorNames() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newPluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List configured plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := pydgeot.Load(rootDir)
			if err != nil {
				return err
			}
			defer app.Close()
			for _, name := range app.PluginNames() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func printChangeSet(cs generator.ChangeSet, elapsed time.Duration) {
	if elapsed > 0 {
		pterm.Success.Printf("built %d generated, %d deleted [%s]\n", len(cs.Generate), len(cs.Delete), elapsed.Round(time.Millisecond))
		return
	}
	if len(cs.Generate) == 0 && len(cs.Delete) == 0 {
		return
	}
	pterm.Info.Printf("rebuilt %d generated, %d deleted\n", len(cs.Generate), len(cs.Delete))
}

func parseSeconds(s string) (time.Duration, error) {
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, &pydgeot.CommandError{Name: "watch", Msg: fmt.Sprintf("invalid duration %q", s)}
	}
	return time.Duration(n) * time.Second, nil
}
