package controlplane

import (
	"context"

	"github.com/matterbridge-core/bridge/internal/model"
)

// PluginLister is the narrow view of the Plugin Manager the control
// plane needs for get_plugins (spec §4.7).
type PluginLister interface {
	List() []*model.Plugin
}

// DeviceLister is the narrow view of the Endpoint Registry the control
// plane needs for get_devices.
type DeviceLister interface {
	All() []*model.Device
}

// RegisterCoreHandlers wires the always-present opcodes from spec §4.7
// onto hub: get_plugins, get_devices and ping. The functional opcodes
// (/api/matter, /api/config, ...) are registered separately by
// RegisterDomainHandlers.
func RegisterCoreHandlers(hub *Hub, plugins PluginLister, devices DeviceLister) {
	hub.Handle("get_plugins", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		list := plugins.List()
		payload := make([]map[string]interface{}, 0, len(list))
		for _, p := range list {
			payload = append(payload, map[string]interface{}{
				"name":    p.Name,
				"type":    string(p.Type),
				"enabled": p.Enabled,
				"stage":   string(p.Stage),
				"error":   p.Error,
			})
		}
		return map[string]interface{}{"plugins": payload}, nil
	})

	hub.Handle("get_devices", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		list := devices.All()
		payload := make([]map[string]interface{}, 0, len(list))
		for _, d := range list {
			payload = append(payload, map[string]interface{}{
				"storageKey": d.StorageKey,
				"plugin":     d.Plugin,
				"number":     d.Number,
			})
		}
		return map[string]interface{}{"devices": payload}, nil
	})

	hub.Handle("ping", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		return map[string]interface{}{"pong": true}, nil
	})
}
