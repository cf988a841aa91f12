package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelogin/pkg/auth"
)

// faceFlags are shared by register and login.
type faceFlags struct {
	image    string
	password string
}

func (f *faceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.image, "image", "i", "", "Path to a photo of the user's face (required)")
	cmd.Flags().StringVar(&f.password, "password", "", "User password (env: FACELOGIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("image")
}

// read returns the password and image bytes.
func (f *faceFlags) read() (string, []byte, error) {
	pwd := f.password
	if pwd == "" {
		pwd = os.Getenv("FACELOGIN_PASSWORD")
	}
	if pwd == "" {
		return "", nil, fmt.Errorf("--password or FACELOGIN_PASSWORD is required")
	}

	data, err := os.ReadFile(f.image)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read image: %w", err)
	}
	return pwd, data, nil
}

func newRegisterCmd(c *cli) *cobra.Command {
	var flags faceFlags

	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Register a user with a password and a reference photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, image, err := flags.read()
			if err != nil {
				return err
			}
			if err := requireDurable(c.cfg, cmd.Name()); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), c.cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.auth.Register(cmd.Context(), args[0], pwd, image)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered '%s' (id %s)\n", args[0], res.Identity)
			return nil
		},
	}
	flags.bind(cmd)

	return cmd
}

func newLoginCmd(c *cli) *cobra.Command {
	var flags faceFlags

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Check a password and photo against a registered user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, image, err := flags.read()
			if err != nil {
				return err
			}
			if err := requireDurable(c.cfg, cmd.Name()); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), c.cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.auth.Login(cmd.Context(), args[0], pwd, image)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Login successful for '%s' (distance %.4f, threshold %.2f)\n",
				args[0], res.Distance, a.auth.Threshold())
			return nil
		},
	}
	flags.bind(cmd)

	return cmd
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove a user and their reference photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDurable(c.cfg, cmd.Name()); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), c.cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.auth.Remove(cmd.Context(), args[0]); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User '%s' has been removed.\n", args[0])
			return nil
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDurable(c.cfg, cmd.Name()); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), c.cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			recs, err := a.auth.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No users registered.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tSTATE\tID\tCREATED")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Username, r.State, r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nTotal: %d user(s)\n", len(recs))
			return nil
		},
	}
}

// userError replaces a workflow error with its user-facing message.
func userError(err error) error {
	kind := auth.KindOf(err)
	if kind == auth.KindInternal {
		return err
	}
	return fmt.Errorf("%s (%s)", auth.Message(kind), kind)
}
