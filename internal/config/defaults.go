package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:               "info",
			LogFormat:              "console",
			MediaDir:               "~/.signalpush/media",
			MaxConcurrentMessages:  4,
			BusBufferSize:          100,
			ShutdownTimeoutSeconds: 15,
		},
		AI: AIConfig{
			Enabled:         true,
			DefaultProvider: "gemini",
			Providers: map[string]ProviderConfig{
				"gemini": {
					Enabled:     true,
					Kind:        "gemini",
					TextModel:   "gemini-1.5-flash",
					VisionModel: "gemini-1.5-flash",
				},
				"openai": {
					Enabled:     false,
					Kind:        "openai",
					APIBase:     "https://api.openai.com/v1",
					TextModel:   "gpt-4o-mini",
					VisionModel: "gpt-4o-mini",
				},
			},
			MaxTokens:          400,
			Temperature:        0.3,
			RateLimitDelayMs:   5000,
			CallTimeoutSeconds: 60,
			VerifyOnStart:      true,
		},
		Format: FormatConfig{
			TitleMaxRunes:     50,
			BodyMaxRunes:      400,
			NarrativeMaxRunes: 160,
		},
		Notifications: NotificationsConfig{
			PersistenceSeconds:      30,
			FollowupIntervalSeconds: 5,
			MaxFollowups:            6,
			SendTimeoutSeconds:      10,
			Primary:                 "fcm",
			FCM: FCMConfig{
				Mode:        "legacy",
				Priority:    "high",
				Sound:       "default",
				Icon:        "ic_notification",
				Color:       "#FF5722",
				ChannelID:   "message_alerts",
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
				TagPolicy:   "stack",
				Vibration:   []int{0, 1000, 500, 1000, 500, 1000},
			},
		},
		Sources: SourcesConfig{
			Telegram: TelegramSource{DownloadMedia: true},
			Discord:  DiscordSource{DownloadMedia: true},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}
