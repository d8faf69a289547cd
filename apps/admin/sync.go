package main

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"

	echoapi "github.com/trezcool/masomo-sync/apps/api/echo"
	"github.com/trezcool/masomo-sync/core/offline"
)

// sync drains the queue once. The remote API token is prompted for when none is configured.
func (cli *commandLine) sync(force bool) error {
	if cli.conf.Remote.Token == "" {
		fmt.Fprint(cli.out, "Enter remote API token:")
		token, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(token) == 0 {
			return errHelp
		}
		cli.remote.SetToken(string(token))
	}

	res := cli.coordinator.Sync(context.Background(), force)

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, string(out))

	if res.Status == offline.StatusError {
		return fmt.Errorf("sync failed: %d failed, %d errors", res.FailedCount, len(res.Errors))
	}
	return nil
}

func (cli *commandLine) token(clientID, profile string) error {
	if _, err := offline.ProfileByName(profile); err != nil {
		return err
	}
	token, err := echoapi.GenerateToken(cli.conf, echoapi.GetClientClaims(cli.conf, clientID, profile))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
