/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package content holds the static tables shown on the party page.
package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Member struct {
	Name   string `yaml:"name" json:"name"`
	Role   string `yaml:"role" json:"role"`
	Motto  string `yaml:"motto" json:"motto"`
	Color  string `yaml:"color" json:"color"`
	Avatar string `yaml:"avatar" json:"avatar,omitempty"`
}

type Activity struct {
	Time        string `yaml:"time" json:"time"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Award       string `yaml:"award" json:"award,omitempty"`
	Winner      string `yaml:"winner" json:"winner,omitempty"`
	WinnerImage string `yaml:"winner_image" json:"winner_image,omitempty"`
}

// Prize is one lottery tier. Prizes are drawn in list order.
type Prize struct {
	Level       string `yaml:"level" json:"level"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

type Seed struct {
	ID   string `yaml:"id" json:"id"`
	Text string `yaml:"text" json:"text"`
}

type Track struct {
	ID       int64  `yaml:"id" json:"id"`
	Title    string `yaml:"title" json:"title"`
	Artist   string `yaml:"artist" json:"artist"`
	AudioURL string `yaml:"audio_url" json:"audio_url"`
}

// Content is everything on the page that does not come from the store.
type Content struct {
	Title      string     `yaml:"title" json:"title"`
	Subtitle   string     `yaml:"subtitle" json:"subtitle"`
	About      string     `yaml:"about" json:"about"`
	Members    []Member   `yaml:"members" json:"members"`
	Activities []Activity `yaml:"activities" json:"activities"`
	Prizes     []Prize    `yaml:"prizes" json:"prizes"`
	Seeds      []Seed     `yaml:"seeds" json:"-"`
	Playlist   []Track    `yaml:"playlist" json:"-"`
}

// Default returns the built-in page content.
func Default() *Content {
	return &Content{
		Title:    "The Evolution of Us",
		Subtitle: "2026: Never Stop Singing!",
		About: "A song-lovers' group that never sleeps. Come sing, chat, and ring in the new year " +
			"with everyone: relay singing, guess-the-song, the singer's arena and more.",
		Members: []Member{
			{Name: "Wen Zilu", Role: "Host", Motto: "Every mountain crossed, except the one inside.", Color: "#a855f7"},
			{Name: "Baa", Role: "Mascot", Motto: "Words are records before they are understood.", Color: "#3b82f6"},
			{Name: "Kitty", Role: "Morale Officer", Motto: "Awake at night, asleep by day.", Color: "#ec4899"},
			{Name: "Apple Ghost", Role: "Resident Genius", Motto: "One loves the sunset, when one is so bad.", Color: "#f97316"},
		},
		Activities: []Activity{
			{Time: "19:00 - 19:30", Title: "Opening: Never Stop Singing!", Description: "The hosts look back on the year and warm everyone up for the night."},
			{Time: "19:30 - 20:00", Title: "Round 1: Song Relay", Description: "First valid voice clip continues the relay. Most successful relays wins.", Award: "Relay King"},
			{Time: "20:00 - 21:00", Title: "Round 2: Guess the Song", Description: "One member sets a puzzle in any form; the rest guess. Most correct guesses wins.", Award: "Mind Reader"},
			{Time: "21:00 - 21:30", Title: "Round 3: Singer's Arena", Description: "Challengers take on the reigning singer; the audience scores. Last one standing wins.", Award: "Arena King"},
			{Time: "21:30 - 22:00", Title: "Round 4: Hometown Accent", Description: "Sing or read a passage in dialect; others imitate and score.", Award: "Accent King"},
			{Time: "22:00 - 23:00", Title: "Round 5: Truth or Dare", Description: "Challenge anyone to anything; the loser picks truth or dare and challenges next.", Award: "Daredevil"},
			{Time: "23:00 - 00:00", Title: "Free Time", Description: "Open mic until midnight."},
			{Time: "00:00+", Title: "Countdown", Description: "Results of every round and the lottery are announced."},
		},
		Prizes: []Prize{
			{Level: "Grand Prize", Name: "Lucky Koi of 2026", Description: "One annual membership, a cash red envelope and the Lucky Koi title."},
			{Level: "First Prize", Name: "Wireless earbuds", Description: "Better sound for better ears."},
			{Level: "Second Prize", Name: "Winter snack bundle", Description: "Essential for studying, gaming and binge-watching."},
			{Level: "Third Prize", Name: "3-month music streaming pass", Description: "Listen without limits."},
		},
		Seeds: []Seed{
			{ID: "sys-1", Text: "Welcome to the wishing wall!"},
			{ID: "sys-2", Text: "2026: never stop singing!"},
			{ID: "sys-3", Text: "Leave your wishes here~"},
		},
		Playlist: []Track{
			{ID: 0, Title: "Offline mode", Artist: "Connect a database", AudioURL: "https://actions.google.com/sounds/v1/science_fiction/robot_code_entry.ogg"},
		},
	}
}

// Load reads a YAML file and replaces every section of the defaults that
// the file sets.
func Load(path string) (*Content, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}

	var override Content
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse content file: %w", err)
	}

	if override.Title != "" {
		c.Title = override.Title
	}
	if override.Subtitle != "" {
		c.Subtitle = override.Subtitle
	}
	if override.About != "" {
		c.About = override.About
	}
	if len(override.Members) > 0 {
		c.Members = override.Members
	}
	if len(override.Activities) > 0 {
		c.Activities = override.Activities
	}
	if len(override.Prizes) > 0 {
		seen := make(map[string]bool, len(override.Prizes))
		for _, prize := range override.Prizes {
			if seen[prize.Level] {
				return nil, fmt.Errorf("parse content file: prize level %q listed twice", prize.Level)
			}
			seen[prize.Level] = true
		}
		c.Prizes = override.Prizes
	}
	if len(override.Seeds) > 0 {
		c.Seeds = override.Seeds
	}
	if len(override.Playlist) > 0 {
		c.Playlist = override.Playlist
	}

	return c, nil
}
