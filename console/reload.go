package console

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/e7canasta/rov-host/future"
	"github.com/e7canasta/rov-host/internal/config"
)

// ApplyConfig swaps in cfg. The input mapping changes at once; connection
// and video settings apply on the next connect or start. Vehicles no longer
// configured are stopped and dropped.
func (c *Console) ApplyConfig(cfg *config.Config) *future.Future[none] {
	return onLoop(c, func() (none, error) {
		if err := config.Validate(cfg); err != nil {
			return none{}, err
		}
		mapping, err := cfg.Input.Mapping()
		if err != nil {
			return none{}, fmt.Errorf("console: input mapping: %w", err)
		}

		next := make(map[string]*vehicle, len(cfg.Vehicles))
		var removed []*vehicle
		for _, vc := range cfg.Vehicles {
			v, ok := c.vehicles[vc.Name]
			if !ok {
				if v, err = newVehicle(vc, mapping); err != nil {
					return none{}, err
				}
			}
			next[vc.Name] = v
		}
		for name, v := range c.vehicles {
			if _, ok := next[name]; !ok {
				removed = append(removed, v)
			}
		}

		// Rebuild mappers before publishing so no input sees a half update.
		for _, vc := range cfg.Vehicles {
			v := next[vc.Name]
			if err := v.remap(mapping); err != nil {
				return none{}, err
			}
		}

		c.mu.Lock()
		for _, vc := range cfg.Vehicles {
			next[vc.Name].cfg = vc
		}
		c.cfg = cfg
		c.mapping = mapping
		c.vehicles = next
		c.mu.Unlock()

		for _, v := range removed {
			c.logger.Info("console: vehicle removed from configuration", "vehicle", v.name)
			if !v.idle() {
				go c.stopVehicle(v)
			}
		}

		names := make([]string, 0, len(next))
		for name := range next {
			names = append(names, name)
		}
		sort.Strings(names)
		c.logger.Info("console: configuration applied", "vehicles", names, "removed", len(removed))
		c.emit(ConfigUpdated{Vehicles: names})
		c.toast("", slog.LevelInfo, "configuration reloaded")
		return none{}, nil
	})
}
