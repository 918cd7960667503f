package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/simrun/internal/keyspace"
	"github.com/roach88/simrun/internal/scenario"
)

// NewKeySpaceCommand creates the keyspace command.
func NewKeySpaceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyspace <scenario-file>",
		Short: "List the selectors engine output columns decompose into",
		Long: `Print the key space of a scenario: one selector per record scope
(scenario-wide, per category, per zone and per zone/category pair) with the
column suffix the engine uses for it.

Example:
  simrun keyspace ./scenario.yaml
  simrun keyspace --format json ./scenario.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load scenario", err)
			}
			ks := keyspace.Build(sc.ZoneNames(), sc.CategoryNames())
			return newFormatter(rootOpts, cmd).Success(newKeySpaceView(ks))
		},
	}
	return cmd
}

type selectorView struct {
	Kind     string `json:"kind"`
	Zone     string `json:"zone"`
	Category string `json:"category"`
	Suffix   string `json:"suffix"`
}

type keySpaceView struct {
	ks        *keyspace.KeySpace
	Selectors []selectorView `json:"selectors"`
}

func newKeySpaceView(ks *keyspace.KeySpace) keySpaceView {
	v := keySpaceView{ks: ks}
	for _, s := range ks.Selectors() {
		v.Selectors = append(v.Selectors, selectorView{
			Kind:     s.Family.String(),
			Zone:     s.ZoneLabel(),
			Category: s.CategoryLabel(),
			Suffix:   s.Suffix,
		})
	}
	return v
}

func (v keySpaceView) String() string {
	var b strings.Builder
	_ = v.ks.Describe(&b)
	return strings.TrimSuffix(b.String(), "\n")
}
