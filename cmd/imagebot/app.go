package main

import (
	"github.com/rs/zerolog"

	"github.com/HKUDS/imagebot-go/pkg/config"
	"github.com/HKUDS/imagebot-go/pkg/delivery"
	"github.com/HKUDS/imagebot-go/pkg/imagegen"
	"github.com/HKUDS/imagebot-go/pkg/translator"
)

// engineSpecs keeps the configured order as priority.
func engineSpecs(engines []config.EngineConfig) []imagegen.EngineSpec {
	if len(engines) == 0 {
		return nil
	}
	specs := make([]imagegen.EngineSpec, 0, len(engines))
	for i, e := range engines {
		specs = append(specs, imagegen.EngineSpec{
			Name:     e.Name,
			Width:    e.Width,
			Height:   e.Height,
			Priority: i,
		})
	}
	return specs
}

func adapterOptions(p config.ProviderConfig, cfg *config.Config, logger *zerolog.Logger) imagegen.AdapterOptions {
	return imagegen.AdapterOptions{
		APIKey:  p.APIKey,
		BaseURL: p.APIBase,
		Engines: engineSpecs(p.Engines),
		Timeout: cfg.Generation.Timeout,
		Logger:  logger,
	}
}

func newOrchestrator(cfg *config.Config, logger zerolog.Logger) *imagegen.Orchestrator {
	stability := imagegen.NewStabilityAdapter(adapterOptions(cfg.Providers.Stability, cfg, &logger))
	huggingFace := imagegen.NewHuggingFaceAdapter(adapterOptions(cfg.Providers.HuggingFace, cfg, &logger))

	var tr translator.Translator
	if cfg.Translation.Enabled {
		tr = translator.NewGoogleTranslator(translator.Options{
			BaseURL: cfg.Translation.APIBase,
			Timeout: cfg.Translation.Timeout,
		})
	}

	return imagegen.NewOrchestrator(tr, []imagegen.Adapter{stability, huggingFace},
		imagegen.WithLogger(logger),
		imagegen.WithLanguages(cfg.Translation.Source, cfg.Translation.Target),
		imagegen.WithFallback(cfg.Generation.Fallback),
	)
}

func newRetrier(cfg *config.Config, logger zerolog.Logger) *delivery.Retrier {
	return delivery.NewRetrier(delivery.Options{
		MaxRetries: cfg.Delivery.MaxRetries,
		Interval:   cfg.Delivery.Interval,
		Logger:     &logger,
	})
}
