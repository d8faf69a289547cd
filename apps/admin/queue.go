package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/trezcool/masomo-sync/core"
)

func (cli *commandLine) listQueue(storeName string) error {
	ctx := context.Background()

	items, err := cli.store.QueryAll(ctx)
	if storeName = core.CleanString(storeName, true); storeName != "" {
		items, err = cli.store.List(ctx, storeName)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTORE\tOPERATION\tENTITY\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			item.ID, item.StoreName, item.Operation, item.EntityID, item.Attempts,
			item.CreatedAt.Format(time.RFC3339), item.LastError,
		)
	}
	if err = w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d queued\n", len(items))
	return nil
}

func (cli *commandLine) discard(id string) error {
	ctx := context.Background()
	item, err := cli.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err = cli.store.Remove(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "discarded %s %s on %s\n", item.Operation, item.EntityID, item.StoreName)
	return nil
}
