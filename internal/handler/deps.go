package handler

import (
	"collabchat/internal/app/chat"
	"collabchat/internal/app/directory"
	"collabchat/internal/app/notify"
	"collabchat/internal/app/store"
	"collabchat/internal/configs"
)

// AppDeps bundles the collaborators every handler needs.
type AppDeps struct {
	Manager   *chat.Manager
	Config    *configs.AppConfig
	Store     store.Store
	Directory directory.Directory
	Notifier  notify.Notifier
}
