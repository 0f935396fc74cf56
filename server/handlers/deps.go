package handlers

import "github.com/luno/spantree/server/ops"

type Deps interface {
	Server() *ops.Server
	Sessions() *ops.Sessions
}
