package subscription

import (
	"github.com/smallbiznis/paysync/internal/subscription/reconciler"
	"github.com/smallbiznis/paysync/internal/subscription/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(repository.Provide),
	fx.Provide(reconciler.New),
)
