// Package chat runs the Twitch chat bot that mirrors the extension's task
// actions as commands:
//
//	!task <text>    submit a task
//	!approve @user  approve the user's pending task (mods, broadcaster)
//	!reject @user   reject the user's pending task (mods, broadcaster)
//	!done           mark your approved task complete
//	!undo           mark it incomplete again
//
// Chat submitters are recorded by login name. The IRC client needs a bot
// username and a user OAuth token with chat:read and chat:edit; when
// TWITCH_OAUTH_TOKEN is unset the token stored for provider "twitch" is used.
package chat
