package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchLogLevel re-reads log.level whenever the loaded config file changes and
// passes it to apply. The upstream target is fixed for the process lifetime and
// is not reloaded. Returns false when no config file was loaded.
func WatchLogLevel(v *viper.Viper, apply func(level string, e fsnotify.Event)) bool {
	if v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		apply(v.GetString("log.level"), e)
	})
	v.WatchConfig()
	return true
}
