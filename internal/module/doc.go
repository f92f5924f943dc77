// Package module loads driver modules and tracks their discovery state.
//
// A module is a bundle of driver code for one device family. Go cannot load
// code at runtime, so modules are compiled in and registered in a Catalog
// under a driver name; the configuration (or a registry install) then
// creates named instances of them through their Factory.
//
// A loaded module reports devices through the Signals in its Env:
// DeviceOnline hands a device.Driver to the hub, DeviceOffline withdraws
// it. Signals from an instance that has since been unloaded or reloaded
// are ignored.
//
// Discovery is idempotent per module: DiscoverAll skips modules that are
// already discovering and StopDiscoverAll skips stopped ones. With
// auto-discovery enabled, a freshly loaded module starts discovering at
// once and is force-stopped after a fixed window.
//
// InstallFromRegistry validates the source URL and version, fetches the
// module manifest, records it and loads the module. A failure at any step
// leaves no metadata behind and nothing loaded.
package module
