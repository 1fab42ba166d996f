package engine

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/datanova-ai/datanova-exchange/analysis"
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/pkg"
	"github.com/datanova-ai/datanova-exchange/registry"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, domain.Errorf(domain.ErrValidation, "%q is not an identifier", s)
	}
	return id, nil
}

func (e *Engine) cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "datanova",
		Short:         "dataset exchange settlement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(e.datasetsCmd(), e.agreementsCmd(), e.accrualsCmd(), e.authorizeCmd(), e.analyzeCmd())
	return cmd
}

func (e *Engine) datasetsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "datasets", Short: "content registry commands"}

	var (
		price     uint64
		public    bool
		exclusive string
		meta      domain.Metadata
	)
	register := &cobra.Command{
		Use:     "register [owner] [file]",
		Example: "register did:datanova:lab-7 ./measurements.csv --price 250 --title 'Ice core samples'",
		Short:   "register the content of a file as a dataset",
		Args:    cobra.ExactArgs(2),
		RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return domain.Errorf(domain.ErrDigestComputation, "%v", err)
			}
			opts := registry.Options{Price: price, Metadata: meta}
			if public {
				opts.Visibility = domain.Public
			}
			if exclusive != "" {
				b, err := strconv.ParseBool(exclusive)
				if err != nil {
					return domain.Errorf(domain.ErrValidation, "--exclusive: %v", err)
				}
				opts.Exclusive = &b
			}
			d, err := ex.RegisterDataset(cmd.Context(), args[0], registry.Content{Bytes: data}, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		}),
	}
	register.Flags().Uint64Var(&price, "price", 0, "Price of access in token units")
	register.Flags().BoolVar(&public, "public", false, "Make the dataset readable without an agreement")
	register.Flags().StringVar(&exclusive, "exclusive", "", "Override the exclusivity default: true or false")
	register.Flags().StringVar(&meta.Title, "title", "", "Dataset title")
	register.Flags().StringVar(&meta.Description, "description", "", "Dataset description")
	register.Flags().StringVar((*string)(&meta.DataType), "data-type", "", "experimental, observational, computational or survey")
	register.Flags().StringSliceVar(&meta.Keywords, "keywords", nil, "Keywords")
	register.Flags().StringSliceVar(&meta.Authors, "authors", nil, "Authors")
	register.Flags().StringVar(&meta.License, "license", "", "License")
	register.Flags().StringVar(&meta.ContentType, "content-type", "", "Media type of the content")

	var filter registry.Filter
	list := &cobra.Command{
		Use:   "list",
		Short: "list registered datasets",
		Args:  cobra.NoArgs,
		RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
			list, err := ex.Registry.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if list == nil {
				list = []*domain.Dataset{}
			}
			return printJSON(cmd, list)
		}),
	}
	list.Flags().StringVar(&filter.Owner, "owner", "", "Only datasets of this owner")
	list.Flags().StringVar(&filter.Keyword, "keyword", "", "Only datasets with this keyword")
	list.Flags().StringVar(&filter.Author, "author", "", "Only datasets by this author")
	list.Flags().BoolVar(&filter.IncludeHidden, "all", false, "Include quarantined and revoked datasets")

	cmd.AddCommand(register, list,
		&cobra.Command{
			Use:   "verify [dataset]",
			Short: "recompute the digest of a dataset, quarantining it on mismatch",
			Args:  cobra.ExactArgs(1),
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				ok, err := ex.VerifyDataset(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]bool{"intact": ok})
			}),
		},
		&cobra.Command{
			Use:   "audit",
			Short: "verify every visible dataset",
			Args:  cobra.NoArgs,
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				report, err := ex.Registry.Audit(cmd.Context())
				if perr := printJSON(cmd, report); perr != nil {
					return perr
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "revoke [dataset]",
			Short: "withdraw a dataset from circulation",
			Args:  cobra.ExactArgs(1),
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return ex.Registry.Revoke(cmd.Context(), id)
			}),
		},
	)
	return cmd
}

func (e *Engine) agreementsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agreements", Short: "agreement state machine commands"}
	byID := func(use, short string, fn func(cmd *cobra.Command, ex *pkg.Exchange, id uuid.UUID, args []string) (interface{}, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				out, err := fn(cmd, ex, id, args[1:])
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			}),
		}
	}
	reasonOf := func(args []string, def string) string {
		if len(args) > 0 {
			return args[0]
		}
		return def
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "propose [dataset] [consumer]",
			Short: "propose an agreement for access to a dataset",
			Args:  cobra.ExactArgs(2),
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				a, err := ex.ProposeAgreement(cmd.Context(), id, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, a)
			}),
		},
		byID("pay [agreement]", "submit the payment of a proposed agreement", func(cmd *cobra.Command, ex *pkg.Exchange, id uuid.UUID, _ []string) (interface{}, error) {
			txRef, err := ex.InitiatePayment(cmd.Context(), id)
			return map[string]string{"txRef": txRef}, err
		}),
		byID("show [agreement]", "show an agreement", func(cmd *cobra.Command, ex *pkg.Exchange, id uuid.UUID, _ []string) (interface{}, error) {
			return ex.Agreements.Get(cmd.Context(), id)
		}),
		byID("reconcile [agreement]", "bring an agreement in line with the ledger", func(cmd *cobra.Command, ex *pkg.Exchange, id uuid.UUID, _ []string) (interface{}, error) {
			return ex.Agreements.Reconcile(cmd.Context(), id)
		}),
		byID("reject [agreement] [reason]", "reject a proposed agreement", func(cmd *cobra.Command, ex *pkg.Exchange, id uuid.UUID, args []string) (interface{}, error) {
			return ex.Agreements.Reject(cmd.Context(), id, reasonOf(args, "rejected by operator"))
		}),
		byID("revoke [agreement] [reason]", "revoke a granted agreement", func(cmd *cobra.Command, ex *pkg.Exchange, id uuid.UUID, args []string) (interface{}, error) {
			return ex.Agreements.Revoke(cmd.Context(), id, reasonOf(args, "revoked by operator"))
		}),
		&cobra.Command{
			Use:   "reconcile-all",
			Short: "reconcile every open agreement once",
			Args:  cobra.NoArgs,
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				n, err := ex.Agreements.ReconcileAll(cmd.Context())
				if perr := printJSON(cmd, map[string]int{"visited": n}); perr != nil {
					return perr
				}
				return err
			}),
		},
	)
	return cmd
}

func (e *Engine) accrualsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "accruals", Short: "incentive accrual commands"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "balance [provider]",
			Short: "show the unpaid balance of a provider",
			Args:  cobra.ExactArgs(1),
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				balance, err := ex.Balance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]uint64{"balance": balance})
			}),
		},
		&cobra.Command{
			Use:   "entries [provider]",
			Short: "list the accrual entries of a provider",
			Args:  cobra.ExactArgs(1),
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				entries, err := ex.Accruals.Entries(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			}),
		},
		&cobra.Command{
			Use:   "payout [entry]...",
			Short: "mark accrual entries as paid out, all or none",
			Args:  cobra.MinimumNArgs(1),
			RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
				ids := make([]uuid.UUID, 0, len(args))
				for _, arg := range args {
					id, err := parseID(arg)
					if err != nil {
						return err
					}
					ids = append(ids, id)
				}
				entries, err := ex.Accruals.MarkPaidOut(cmd.Context(), ids)
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			}),
		},
	)
	return cmd
}

func (e *Engine) authorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authorize [dataset] [consumer]",
		Short: "decide whether a consumer may read a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			dec, err := ex.Authorize(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, dec)
		}),
	}
}

func (e *Engine) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "analyze [dataset] [consumer] [kind]",
		Example: "analyze 5f0c... did:datanova:consumer-3 anomaly",
		Short:   "analyze a dataset on behalf of an authorized consumer; kinds: anomaly, clustering, text, similarity",
		Args:    cobra.ExactArgs(3),
		RunE: e.withExchange(func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			report, err := ex.Analyze(cmd.Context(), id, args[1], analysis.Kind(args[2]))
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		}),
	}
}
