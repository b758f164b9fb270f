package timetable

// DefaultTimetable is the compiled-in schedule used when the config file
// does not define one.
func DefaultTimetable() Timetable {
	return Timetable{
		Periods: []Period{
			{Start: MustTimeOfDay("08:45"), End: MustTimeOfDay("09:45")},
			{Start: MustTimeOfDay("09:45"), End: MustTimeOfDay("10:45")},
			// tea break 10:45-11:15
			{Start: MustTimeOfDay("11:15"), End: MustTimeOfDay("12:15")},
			{Start: MustTimeOfDay("12:15"), End: MustTimeOfDay("13:15")},
			// lunch 13:15-14:15
			{Start: MustTimeOfDay("14:15"), End: MustTimeOfDay("15:15")},
			{Start: MustTimeOfDay("15:15"), End: MustTimeOfDay("16:15")},
		},
		Days: []Day{
			{"Information Security", "High Speed Networks", "Advanced Wireless Technology", "Microwave and Optical Communication", "MW/OC LAB", "Microwave and Optical Communication Lab"},
			{"Advanced Wireless Technology", "Information Security", "Digital Image and Video Processing", "Microwave and Optical Communication", "Fundamentals of Network Security", "Information Security"},
			{"High Speed Networks", "Information Security", "Microwave and Optical Communication", "Information Security", "Fundamentals of Network Security", "Digital Image and Video Processing"},
			{"Digital Image and Video Processing", "Fundamentals of Network Security", "Microwave and Optical Communication", "Advanced Wireless Technology", "Fundamentals of Network Security", "High Speed Networks"},
			{"Advanced Wireless Technology", "High Speed Networks", "Digital Image and Video Processing", "Fundamentals of Network Security", "Microwave and Optical Communication", "Tutor Ward Meeting"},
		},
	}
}

// DefaultCalendar is the compiled-in academic calendar (0-based day orders).
func DefaultCalendar() Calendar {
	rows := map[string]int{
		// June 2025
		"2025-06-23": 0, "2025-06-24": 1, "2025-06-25": 2, "2025-06-26": 3, "2025-06-27": 4,
		"2025-06-28": 0, "2025-06-30": 1,
		// July 2025
		"2025-07-01": 2, "2025-07-02": 3, "2025-07-03": 4,
		"2025-07-08": 0, "2025-07-09": 1, "2025-07-10": 2, "2025-07-11": 3, "2025-07-12": 4,
		"2025-07-14": 0, "2025-07-15": 1, "2025-07-16": 2, "2025-07-17": 3, "2025-07-18": 4,
		"2025-07-21": 0, "2025-07-22": 1, "2025-07-23": 2, "2025-07-24": 3, "2025-07-25": 4,
		"2025-07-26": 0, "2025-07-28": 1, "2025-07-29": 2, "2025-07-30": 3, "2025-07-31": 4,
		// August 2025
		"2025-08-01": 0, "2025-08-04": 1, "2025-08-05": 2, "2025-08-06": 3, "2025-08-07": 4,
		"2025-08-08": 0, "2025-08-09": 1, "2025-08-11": 2, "2025-08-12": 3, "2025-08-13": 4,
		"2025-08-18": 0, "2025-08-19": 1, "2025-08-20": 2, "2025-08-21": 3, "2025-08-22": 4,
		"2025-08-23": 0, "2025-08-25": 1, "2025-08-26": 2, "2025-08-28": 3, "2025-08-29": 4,
		"2025-08-30": 0,
		// September 2025
		"2025-09-01": 1, "2025-09-02": 2, "2025-09-03": 3,
		"2025-09-08": 4, "2025-09-09": 0, "2025-09-10": 1, "2025-09-11": 2, "2025-09-12": 3,
		"2025-09-13": 4, "2025-09-15": 0, "2025-09-16": 1, "2025-09-17": 2, "2025-09-18": 3,
		"2025-09-19": 4, "2025-09-22": 0, "2025-09-23": 1, "2025-09-24": 2, "2025-09-25": 3,
		"2025-09-26": 4, "2025-09-27": 0, "2025-09-29": 1, "2025-09-30": 2,
		// October 2025
		"2025-10-06": 3, "2025-10-07": 4, "2025-10-08": 0, "2025-10-09": 1, "2025-10-10": 2,
		"2025-10-11": 3, "2025-10-13": 4, "2025-10-14": 0, "2025-10-15": 1, "2025-10-16": 2,
		"2025-10-17": 3,
	}
	cal := make(Calendar, len(rows))
	for date, d := range rows {
		cal[date] = Entry{DayOrder: d}
	}
	return cal
}
