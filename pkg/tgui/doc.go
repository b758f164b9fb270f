// Package tgui builds Telegram HTML messages and inline keyboards for the
// timetable commands. Builders escape by default; H marks text that is
// already safe for ParseMode=HTML.
package tgui
