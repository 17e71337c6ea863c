package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfeidau/storefront/internal/state"
)

type LoginCmd struct {
	Email    string `help:"Email address" required:""`
	Password string `help:"Password" required:"" env:"STOREFRONT_PASSWORD"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.setup(ctx, state.NewWriterNotifier(globals.out()))
	if err != nil {
		return err
	}
	defer a.close()

	return a.controller.Login(ctx, l.Email, l.Password)
}

type RegisterCmd struct {
	Name     string `help:"Display name" default:""`
	Email    string `help:"Email address" required:""`
	Password string `help:"Password" required:"" env:"STOREFRONT_PASSWORD"`
}

func (r *RegisterCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.setup(ctx, state.NewWriterNotifier(globals.out()))
	if err != nil {
		return err
	}
	defer a.close()

	return a.controller.Register(ctx, r.Name, r.Email, r.Password)
}

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.setup(ctx, state.NewWriterNotifier(globals.out()))
	if err != nil {
		return err
	}
	defer a.close()

	a.controller.Logout()
	return nil
}

type WhoamiCmd struct {
	JSON bool `help:"Print the session state as JSON"`
}

func (w *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.setup(ctx, state.LogNotifier{})
	if err != nil {
		return err
	}
	defer a.close()

	snap := a.controller.State()
	out := globals.out()

	if w.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	if snap.User == nil {
		fmt.Fprintln(out, "Not signed in.")
		if snap.Error != "" {
			fmt.Fprintf(out, "Stored session was discarded: %s\n", snap.Error)
		}
		return nil
	}

	fmt.Fprintf(out, "Signed in as %s <%s>\n", snap.User.DisplayName, snap.User.EmailAddress)
	fmt.Fprintf(out, "User ID: %s\n", snap.User.ID)
	fmt.Fprintf(out, "State: %s\n", a.storage.Path())
	return nil
}
