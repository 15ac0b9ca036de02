package ledger

import (
	"github.com/smallbiznis/paysync/internal/ledger/repository"
	"github.com/smallbiznis/paysync/internal/ledger/writer"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.Provide),
	fx.Provide(writer.New),
)
