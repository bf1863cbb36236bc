// verify replays the settlement journal from the sqlite ledger and checks
// the conservation invariant on every record.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"baskt-core/internal/journal"
	"baskt-core/internal/ledger/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/baskt-core.db", "path to sqlite ledger")
	verbose := flag.Bool("v", false, "print every record")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	if *verbose {
		err = journal.Replay(ctx, store, func(rec journal.Record) error {
			switch rec.Kind {
			case journal.KindOpen:
				fmt.Printf("%8d open       %-12s baskt=%s size=%d collateral=%d fee=%d\n",
					rec.Seq, rec.PositionID, rec.BasktID, rec.Size, rec.Collateral, rec.OpeningFee)
			case journal.KindSettlement:
				fmt.Printf("%8d %-10s %-12s baskt=%s closed=%d payout=%d treasury=%d pool=%+d bad_debt=%t\n",
					rec.Seq, rec.Class, rec.PositionID, rec.BasktID, rec.SizeClosed,
					rec.UserPayout, rec.TreasuryFee, rec.PoolDelta, rec.IsBadDebt)
			}
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay: %v\n", err)
			os.Exit(1)
		}
	}

	count, err := journal.Verify(ctx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verification failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ok: %d records verified\n", count)
}
