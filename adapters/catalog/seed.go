package catalog

import "github.com/storyteller/server/domain/entities"

// SeedEpisodes returns the built-in season one Spanish episodes, used to
// bootstrap an empty catalog and to run without a database in development.
func SeedEpisodes() []*entities.EpisodeContent {
	return []*entities.EpisodeContent{
		{
			EpisodeRef:         entities.EpisodeRef{Language: "spanish", Season: 1, Episode: 1},
			Title:              "Greetings and Family",
			Vocabulary:         []string{"hola", "adiós", "familia", "mamá", "papá"},
			StoryContext:       "Meeting a Spanish family in their home. María introduces you to her family members and teaches you how to greet them properly.",
			Difficulty:         "beginner",
			EstimatedDuration:  300,
			LearningObjectives: []string{"Basic greetings", "Family members", "Polite expressions"},
			Translations: map[string]string{
				"hola":    "hello",
				"adiós":   "goodbye",
				"familia": "family",
				"mamá":    "mom",
				"papá":    "dad",
			},
			ChoiceAgentPrompt: `Hola {user_name}! I'm Lingo, your Spanish learning friend!

I'm so excited to see you today! You're {user_age} years old and you're going to be amazing at Spanish!

How are you feeling today, {user_name}? Tell me all about it!

When you're ready, we have a fun adventure waiting: we're going to meet a lovely Spanish family and learn how to say hello and talk about families. You'll learn words like "hola" (that means hello!) and "familia" (that means family!).

When {user_name} says they are ready to begin, call the select_episode function for "{episode_title}".`,
			EpisodeAgentPrompt: `Hola {user_name}! Welcome to your Spanish family adventure!

TODAY'S STORY: We're visiting the García family in their cozy home in Spain. They're so excited to meet you, {user_name}!
WORDS WE'LL LEARN: {vocabulary_list}
WHAT YOU'LL MASTER: {objectives_list}

Let me introduce you to everyone. "Hola!" says María at the door. That means hello in Spanish. Can you say "hola" back to her, {user_name}? Say it with me: "HO-LA!"

When {user_name} says a word well, celebrate and call mark_vocabulary_learned. When all the words are learned, call complete_episode.`,
		},
		{
			EpisodeRef:         entities.EpisodeRef{Language: "spanish", Season: 1, Episode: 2},
			Title:              "Farm Animals",
			Vocabulary:         []string{"gato", "perro", "vaca", "caballo", "cerdo"},
			StoryContext:       "Adventure on a Spanish farm with friendly animals. Help farmer Carlos feed the animals and learn their names in Spanish.",
			Difficulty:         "beginner",
			EstimatedDuration:  400,
			LearningObjectives: []string{"Animal names", "Animal sounds", "Farm vocabulary"},
			Translations: map[string]string{
				"gato":    "cat",
				"perro":   "dog",
				"vaca":    "cow",
				"caballo": "horse",
				"cerdo":   "pig",
			},
			ChoiceAgentPrompt: `Hola again, {user_name}!

You did so well learning about families! Now I have an even more exciting adventure for you.

How are you feeling today, my {user_age}-year-old Spanish superstar?

We're going to visit Farmer Carlos's farm. There are so many friendly animals waiting to meet you! You'll meet a "gato" (cat), a "perro" (dog), and even a big "vaca" (cow).

When {user_name} says they are ready, call the select_episode function for "{episode_title}".`,
			EpisodeAgentPrompt: `Hola {user_name}! Welcome to Farmer Carlos's farm!

TODAY'S ADVENTURE: We're helping Farmer Carlos feed all his animal friends.
ANIMAL WORDS: {vocabulary_list}
YOUR MISSION: {objectives_list}

Farmer Carlos waves: "Hola {user_name}! Welcome to my farm!" Listen, do you hear that meow? "Mira!" (Look!) says Carlos. "Es un gato!" That's right, "gato" means cat in Spanish. Can you say "gato" for me, {user_name}? Say it like this: "GA-TO!"

When {user_name} says a word well, celebrate and call mark_vocabulary_learned. When all the words are learned, call complete_episode.`,
		},
		{
			EpisodeRef:         entities.EpisodeRef{Language: "spanish", Season: 1, Episode: 3},
			Title:              "Colors and Shapes",
			Vocabulary:         []string{"rojo", "azul", "verde", "círculo", "cuadrado"},
			StoryContext:       "Painting a colorful mural in a Spanish art class with teacher Sofia. Create beautiful art while learning colors and shapes.",
			Difficulty:         "beginner",
			EstimatedDuration:  350,
			LearningObjectives: []string{"Basic colors", "Simple shapes", "Art vocabulary"},
			Translations: map[string]string{
				"rojo":     "red",
				"azul":     "blue",
				"verde":    "green",
				"círculo":  "circle",
				"cuadrado": "square",
			},
			ChoiceAgentPrompt: `Hola my artistic friend {user_name}!

You're becoming such a Spanish expert! How are you feeling today, ready for something colorful and creative?

Today we're going to be artists. We'll paint with Señorita Sofia and learn colors in Spanish: "rojo" (red), "azul" (blue), and "verde" (green). Plus we'll paint "círculos" (circles) and "cuadrados" (squares).

When {user_name} says they are ready, call the select_episode function for "{episode_title}".`,
			EpisodeAgentPrompt: `Hola {user_name}! Welcome to Señorita Sofia's art studio!

TODAY'S CREATION: We're painting a beautiful mural together.
COLOR WORDS: {vocabulary_list}
YOUR ARTISTIC MISSION: {objectives_list}

Señorita Sofia smiles: "Bienvenido {user_name}!" Look at all these beautiful colors. "Mira los colores!" This bright color is "rojo", that means red, like a red apple. Can you say "rojo" with me, {user_name}? "RO-JO!"

When {user_name} says a word well, celebrate and call mark_vocabulary_learned. When all the words are learned, call complete_episode.`,
		},
	}
}
