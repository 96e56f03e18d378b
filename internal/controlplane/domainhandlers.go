package controlplane

import (
	"context"
	"fmt"

	"github.com/matterbridge-core/bridge/internal/matterengine"
	"github.com/matterbridge-core/bridge/internal/model"
)

// CommissionController is the narrow view of the Commissioning Supervisor
// the control plane needs to serve /api/matter (spec §4.7).
type CommissionController interface {
	Handle(storeID string) (matterengine.Handle, bool)
	StartAdvertising(ctx context.Context, storeID string, handle matterengine.Handle) error
	StopAdvertising(ctx context.Context, storeID string, handle matterengine.Handle) error
	RemoveFabric(ctx context.Context, storeID string, handle matterengine.Handle, fabricIndex uint8) error
}

// PluginInstaller is the narrow view of the Plugin Manager the control
// plane needs to serve /api/install, /api/uninstall and /api/addplugin.
type PluginInstaller interface {
	Install(ctx context.Context, pkg string, progress func(string)) error
	Uninstall(ctx context.Context, pkg string, progress func(string)) error
	Add(name string, declaredType model.PlatformType, config map[string]interface{}) error
}

// ConfigSink is the narrow view of a storage context the control plane
// needs to serve /api/config.
type ConfigSink interface {
	Set(key string, value interface{}) error
}

// RegisterDomainHandlers wires the functional opcodes from spec §4.7 onto
// hub: commissioning control, settings, and plugin package management.
// Separate from RegisterCoreHandlers because these depend on subsystems
// (Commissioning Supervisor, Plugin Manager, storage) that only exist
// once bridgecore has finished assembling the rest of the process.
func RegisterDomainHandlers(hub *Hub, commissioner CommissionController, installer PluginInstaller, settings ConfigSink) {
	hub.Handle("/api/matter", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		storeID, _ := msg.Params["id"].(string)
		handle, ok := commissioner.Handle(storeID)
		if !ok {
			return nil, fmt.Errorf("%w: server node %q", model.ErrNotFound, storeID)
		}

		if truthy(msg.Params["startCommission"]) || truthy(msg.Params["advertise"]) {
			if err := commissioner.StartAdvertising(ctx, storeID, handle); err != nil {
				return nil, err
			}
		}
		if truthy(msg.Params["stopCommission"]) {
			if err := commissioner.StopAdvertising(ctx, storeID, handle); err != nil {
				return nil, err
			}
		}
		if raw, ok := msg.Params["removeFabric"]; ok {
			idx, err := fabricIndex(raw)
			if err != nil {
				return nil, err
			}
			if err := commissioner.RemoveFabric(ctx, storeID, handle, idx); err != nil {
				return nil, err
			}
		}

		hub.BroadcastRefresh(model.ChangedMatter)
		return map[string]interface{}{"id": storeID}, nil
	})

	hub.Handle("/api/config", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		name, _ := msg.Params["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: /api/config requires a name", model.ErrUnknownMethod)
		}
		if err := settings.Set(name, msg.Params["value"]); err != nil {
			return nil, err
		}
		hub.BroadcastRefresh(model.ChangedSettings)
		return map[string]interface{}{}, nil
	})

	hub.Handle("/api/install", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		pkg, _ := msg.Params["package"].(string)
		if pkg == "" {
			return nil, fmt.Errorf("%w: /api/install requires a package", model.ErrUnknownMethod)
		}
		err := installer.Install(ctx, pkg, func(line string) {
			hub.BroadcastSnackbar(model.SeverityInfo, line)
		})
		if err != nil {
			hub.BroadcastSnackbar(model.SeverityError, fmt.Sprintf("install %s failed: %v", pkg, err))
			return nil, err
		}
		hub.BroadcastRefresh(model.ChangedPlugins)
		return map[string]interface{}{}, nil
	})

	hub.Handle("/api/uninstall", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		pkg, _ := msg.Params["package"].(string)
		if pkg == "" {
			return nil, fmt.Errorf("%w: /api/uninstall requires a package", model.ErrUnknownMethod)
		}
		err := installer.Uninstall(ctx, pkg, func(line string) {
			hub.BroadcastSnackbar(model.SeverityInfo, line)
		})
		if err != nil {
			hub.BroadcastSnackbar(model.SeverityError, fmt.Sprintf("uninstall %s failed: %v", pkg, err))
			return nil, err
		}
		hub.BroadcastRefresh(model.ChangedPlugins)
		return map[string]interface{}{}, nil
	})

	hub.Handle("/api/addplugin", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		name, _ := msg.Params["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: /api/addplugin requires a name", model.ErrUnknownMethod)
		}
		platformType := model.AnyPlatform
		if t, ok := msg.Params["type"].(string); ok && t != "" {
			platformType = model.PlatformType(t)
		}
		config, _ := msg.Params["config"].(map[string]interface{})
		if err := installer.Add(name, platformType, config); err != nil {
			return nil, err
		}
		hub.BroadcastRefresh(model.ChangedPlugins)
		return map[string]interface{}{}, nil
	})
}

// truthy reports whether a decoded JSON params value is a boolean true.
func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

// fabricIndex converts a decoded JSON params value (always float64 from
// encoding/json) into the uint8 fabric index the engine seam expects.
func fabricIndex(v interface{}) (uint8, error) {
	switch n := v.(type) {
	case float64:
		return uint8(n), nil
	case int:
		return uint8(n), nil
	default:
		return 0, fmt.Errorf("%w: removeFabric requires a numeric fabric index", model.ErrUnknownMethod)
	}
}
