package jobpool

import (
	"viewexchange-engine/services/campaign"

	"go.uber.org/fx"
)

var Module = fx.Module("jobpool.service",
	fx.Provide(
		NewPool,
		func(p *Pool) campaign.JobMaterializer { return p },
		func(p *Pool) campaign.JobExpirer { return p },
	),
)
