/*
 *  DataNova exchange holds the settlement logic for dataset access
 *  Copyright (C) 2026 DataNova community
 *
 *  This program is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU General Public License as published by
 *  the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 *  This program is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *  GNU General Public License for more details.
 *
 *  You should have received a copy of the GNU General Public License
 *  along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package engine

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/datanova-ai/datanova-exchange/api"
	"github.com/datanova-ai/datanova-exchange/pkg"
)

// Engine bundles the commands, configuration and lifecycle of the exchange.
type Engine struct {
	Name      string
	Cmd       *cobra.Command
	FlagSet   *pflag.FlagSet
	Configure func() error
	Start     func() error
	Shutdown  func() error
	Routes    func(router api.EchoRouter)

	exchange *pkg.Exchange
}

func NewExchangeEngine() *Engine {
	return newEngine(pkg.ExchangeInstance())
}

func newEngine(ex *pkg.Exchange) *Engine {
	e := &Engine{
		Name:      "Exchange",
		FlagSet:   pkg.FlagSet(),
		Configure: ex.Configure,
		Start:     ex.Start,
		Shutdown:  ex.Shutdown,
		Routes: func(router api.EchoRouter) {
			api.RegisterHandlers(router, &api.Wrapper{Cl: ex})
		},
		exchange: ex,
	}
	e.Cmd = e.cmd()
	e.Cmd.PersistentFlags().AddFlagSet(e.FlagSet)
	return e
}

// LoadConfig reads the configuration from the engine's flags, environment
// and config file, and configures the exchange with it.
func (e *Engine) LoadConfig() error {
	cfg, err := pkg.LoadConfig(e.FlagSet)
	if err != nil {
		return err
	}
	e.exchange.Config = cfg
	return e.Configure()
}

// Exchange returns the exchange the engine manages.
func (e *Engine) Exchange() *pkg.Exchange {
	return e.exchange
}

// withExchange configures the exchange for the duration of one command.
func (e *Engine) withExchange(fn func(cmd *cobra.Command, args []string, ex *pkg.Exchange) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := e.LoadConfig(); err != nil {
			return err
		}
		defer e.Shutdown()
		return fn(cmd, args, e.exchange)
	}
}
